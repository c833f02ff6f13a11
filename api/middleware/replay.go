package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cityportal/payments-backend/pkg/logger"
	pkgredis "github.com/cityportal/payments-backend/pkg/redis"
)

const replayedHeader = "Idempotent-Replayed"

// replayRecord is the cached response for one idempotency key.
type replayRecord struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

func newReplayRecord(status int, header http.Header, body []byte, requestHash string) replayRecord {
	return replayRecord{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(body),
		ContentType: header.Get("Content-Type"),
		RequestHash: requestHash,
	}
}

func (rec replayRecord) writeTo(w http.ResponseWriter) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(rec.Status)
	if body, err := base64.StdEncoding.DecodeString(rec.Body); err == nil {
		_, _ = w.Write(body)
	}
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// replayCache treats every store failure as a miss. The orchestrator re-checks
// the ledger, so an outage only costs the shortcut.
type replayCache struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
}

func (c replayCache) lookup(ctx context.Context, key string) (replayRecord, bool) {
	raw, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil) || (err == nil && raw == ""):
		return replayRecord{}, false
	case err != nil:
		c.logError(ctx, "check idempotency cache", err)
		return replayRecord{}, false
	}

	var rec replayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.logError(ctx, "decode idempotency record", err)
		return replayRecord{}, false
	}
	return rec, true
}

// save never overwrites: the first terminal response for a key wins.
func (c replayCache) save(ctx context.Context, key string, rec replayRecord, ttl time.Duration) {
	payload, err := json.Marshal(rec)
	if err != nil {
		c.logError(ctx, "marshal idempotency record", err)
		return
	}
	if _, err := c.store.SetNX(ctx, key, string(payload), ttl); err != nil {
		c.logError(ctx, "persist idempotency record", err)
	}
}

func (c replayCache) logError(ctx context.Context, msg string, err error) {
	if c.logg != nil {
		c.logg.Error(ctx, msg, err)
	}
}
