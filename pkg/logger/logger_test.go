package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithLedgerID(ctx, "ledger-1")
	log.Error(ctx, "finalize failed", errors.New("boom"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "req-123", entry[FieldRequestID])
	assert.Equal(t, "ledger-1", entry[FieldLedgerID])
	assert.Equal(t, "boom", entry["error"])
	assert.NotEmpty(t, entry["stack"])
	assert.NotContains(t, entry, "error_code")
}

func TestErrorLogsTypedCode(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	log.Error(context.Background(), "charge failed", pkgerrors.New(pkgerrors.CodePaymentFailed, "declined"))

	assert.Equal(t, string(pkgerrors.CodePaymentFailed), decodeLine(t, buf)["error_code"])
}

func TestWarnStackToggle(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		buf := &bytes.Buffer{}
		log := New(Options{ServiceName: "test", Output: buf, WarnStack: enabled})
		log.Warn(context.Background(), "slow gateway")
		_, hasStack := decodeLine(t, buf)["stack"]
		assert.Equal(t, enabled, hasStack)
	}
}

func TestWithEntityAddsBothFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	log.Info(log.WithEntity(context.Background(), "permit", "abc"), "hello")

	entry := decodeLine(t, buf)
	assert.Equal(t, "permit", entry[FieldEntityType])
	assert.Equal(t, "abc", entry[FieldEntityID])
}

func TestLevelFiltersDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}
