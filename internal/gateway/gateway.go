package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/types"
)

// FailureCodeUnreachable marks an outcome the processor never confirmed.
const FailureCodeUnreachable = "GATEWAY_UNREACHABLE"

// maxIdempotencyKeyLen is the processor's limit on idempotency keys.
const maxIdempotencyKeyLen = 45

// Config selects the processor environment and credentials. It is passed to the
// constructor so several environments can run side by side.
type Config struct {
	Environment string
	AccessToken string
	Currency    string
	Timeout     time.Duration
}

// ConfigFrom lifts the process configuration into a gateway Config.
func ConfigFrom(cfg config.SquareConfig) Config {
	return Config{
		Environment: cfg.Environment(),
		AccessToken: cfg.AccessToken,
		Currency:    cfg.Currency,
		Timeout:     cfg.Timeout,
	}
}

func (c Config) squareConfig() config.SquareConfig {
	return config.SquareConfig{
		Env:         c.Environment,
		AccessToken: c.AccessToken,
		Currency:    c.Currency,
		Timeout:     c.Timeout,
	}
}

// CreateInstrumentInput exchanges a wallet token for a processor instrument.
type CreateInstrumentInput struct {
	PrincipalID    uuid.UUID
	MerchantRef    string
	Token          string
	MethodType     enums.PaymentMethodType
	Billing        *types.BillingAddress
	IdempotencyKey string
}

// VaultCardInput stores a tokenized card for repeat use by PrincipalID.
type VaultCardInput struct {
	PrincipalID       uuid.UUID
	Nonce             string
	VerificationToken string
	Billing           *types.BillingAddress
	IdempotencyKey    string
}

// Instrument is a processor funding source ready for a transfer.
type Instrument struct {
	InstrumentID string
	CustomerID   string
	Brand        string
	LastFour     string
}

// TransferInput moves AmountCents from the source instrument to the merchant.
type TransferInput struct {
	MerchantRef        string
	AmountCents        int64
	Currency           string
	SourceInstrumentID string
	CustomerID         string
	IdempotencyKey     string
	FraudSessionID     string
	ReferenceID        string
	Billing            *types.BillingAddress
}

// TransferResult is the terminal outcome of a transfer. Declines and transport
// failures are results with State failed, not errors.
type TransferResult struct {
	State          enums.LedgerState
	TransferID     string
	FailureCode    string
	FailureMessage string
	Raw            json.RawMessage
}

// Succeeded reports whether funds moved.
func (r TransferResult) Succeeded() bool {
	return r.State == enums.LedgerStateSucceeded
}

// Client is the processor surface the orchestrator depends on.
type Client interface {
	CreateInstrument(ctx context.Context, input CreateInstrumentInput) (*Instrument, error)
	CreateTransfer(ctx context.Context, input TransferInput) (TransferResult, error)
}

// Vaulter stores reusable card instruments.
type Vaulter interface {
	VaultCard(ctx context.Context, input VaultCardInput) (*Instrument, error)
}

// Failure is a processor outcome that prevented an operation from completing.
type Failure struct {
	Code        string
	Message     string
	Unreachable bool
	Raw         json.RawMessage
	cause       error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("gateway failure %s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.cause
}

// AsFailure unwraps a processor failure from err.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// FailedResult converts a failure into a failed transfer result.
func FailedResult(err error) TransferResult {
	failure, ok := AsFailure(err)
	if !ok {
		failure = unreachable(err)
	}
	return TransferResult{
		State:          enums.LedgerStateFailed,
		FailureCode:    failure.Code,
		FailureMessage: failure.Message,
		Raw:            failure.Raw,
	}
}

func unreachable(cause error) *Failure {
	msg := "payment processor did not respond"
	if cause != nil {
		msg = cause.Error()
	}
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return &Failure{
		Code:        FailureCodeUnreachable,
		Message:     msg,
		Unreachable: true,
		Raw:         raw,
		cause:       cause,
	}
}

// processorKey derives a deterministic key within the processor's length limit so
// retries of the same attempt always present the same key.
func processorKey(prefix, key string) string {
	if len(prefix)+len(key) <= maxIdempotencyKeyLen {
		return prefix + key
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + hex.EncodeToString(sum[:])[:maxIdempotencyKeyLen-len(prefix)]
}
