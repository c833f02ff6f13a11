package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForPaymentCodes(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
		CodeUnauthorized:       {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
		CodeNotFound:           {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
		CodeIdempotency:        {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
		CodeInternal:           {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
		CodeDependency:         {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
		CodePaymentFailed:      {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "payment was declined", DetailsAllowed: true},
		CodeGatewayUnreachable: {HTTPStatus: http.StatusInternalServerError, PublicMessage: "payment processor unreachable", Retryable: true, DetailsAllowed: true},
		CodeReconciliation:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "payment recorded for manual reconciliation", DetailsAllowed: true},
	}

	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, MetadataFor(code))
		})
	}
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for code, meta := range metadataByCode {
		assert.NotZero(t, meta.HTTPStatus, code)
		assert.NotEmpty(t, meta.PublicMessage, code)
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, metadataByCode[CodeInternal], MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorCarriesDetailsAndCause(t *testing.T) {
	declined := New(CodePaymentFailed, "card declined").
		WithDetails(map[string]any{"reason": "INSUFFICIENT_FUNDS"})
	assert.Equal(t, CodePaymentFailed, declined.Code())
	assert.Equal(t, "card declined", declined.Message())
	assert.Equal(t, "PAYMENT_FAILED: card declined", declined.Error())
	assert.NotNil(t, declined.Details())

	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeGatewayUnreachable, cause, "square unreachable")
	assert.ErrorIs(t, wrapped, cause)

	assert.Nil(t, Wrap(CodeInternal, nil, "no cause").Unwrap())
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.Details())
	assert.Nil(t, e.WithDetails("ignored"))
	assert.Empty(t, e.Error())
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	err := fmt.Errorf("resolve instrument: %w", New(CodeNotFound, "instrument not found"))
	got := As(err)
	require.NotNil(t, got)
	assert.Equal(t, CodeNotFound, got.Code())

	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}
