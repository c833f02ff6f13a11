package payments

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/internal/entities"
	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/internal/instruments"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

const maxIdempotencyKeyLen = 255

// PayRequest asks to charge the principal for one payable entity. Existing
// entities are named by EntityID; create-and-pay kinds carry a Draft instead.
type PayRequest struct {
	PrincipalID      uuid.UUID
	EntityType       enums.EntityType
	EntityID         *uuid.UUID
	Draft            *entities.Draft
	Source           instruments.Source
	ClientTotalCents int64
	IdempotencyKey   string
	FraudSessionID   string
}

func (r PayRequest) validate() error {
	key := strings.TrimSpace(r.IdempotencyKey)
	if key == "" {
		return invalid("idempotency_key", "idempotency_key is required")
	}
	if len(key) > maxIdempotencyKeyLen {
		return invalid("idempotency_key", "idempotency_key is too long")
	}
	spec, ok := entities.SpecFor(r.EntityType)
	if !ok {
		return invalid("entity_type", "unknown entity_type")
	}
	if spec.CreateAndPay {
		if r.Draft == nil {
			return invalid("entity_draft", "entity_draft is required for this entity type")
		}
	} else if r.EntityID == nil || *r.EntityID == uuid.Nil {
		return invalid("entity_id", "entity_id is required")
	}
	if r.ClientTotalCents <= 0 {
		return invalid("client_total_amount_cents", "client_total_amount_cents must be positive")
	}
	return r.Source.Validate()
}

func invalid(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{
		"reason": "invalid_request",
		"field":  field,
	})
}

// ResultError describes why a recorded attempt did not move funds.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a payment attempt. Replays of the same idempotency key
// return the same Result.
type Result struct {
	Success         bool              `json:"success"`
	LedgerID        uuid.UUID         `json:"ledger_id"`
	TransferID      string            `json:"transfer_id,omitempty"`
	State           enums.LedgerState `json:"state"`
	EntityType      enums.EntityType  `json:"entity_type"`
	EntityID        uuid.UUID         `json:"entity_id"`
	BaseAmountCents int64             `json:"base_amount_cents"`
	FeeCents        int64             `json:"fee_cents"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `json:"currency"`
	Error           *ResultError      `json:"error,omitempty"`

	// ReconciliationRequired means the charge is recorded but an operator must
	// finish the entity side by hand.
	ReconciliationRequired bool `json:"reconciliation_required,omitempty"`
	Replayed               bool `json:"-"`
}

// Err converts a failed result into the typed error the HTTP layer renders. A
// successful result yields nil.
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	code := pkgerrors.CodePaymentFailed
	msg := "payment was declined"
	if r.Error != nil && r.Error.Code == gateway.FailureCodeUnreachable {
		code = pkgerrors.CodeGatewayUnreachable
		msg = "payment processor unreachable"
	}
	return pkgerrors.New(code, msg).WithDetails(r)
}

func resultFromRecord(record *models.LedgerRecord) *Result {
	res := &Result{
		Success:         record.State == enums.LedgerStateSucceeded,
		LedgerID:        record.ID,
		TransferID:      deref(record.GatewayTransferID),
		State:           record.State,
		EntityType:      record.EntityType,
		EntityID:        record.EntityID,
		BaseAmountCents: record.BaseAmountCents,
		FeeCents:        record.FeeCents,
		AmountCents:     record.TotalAmountCents,
		Currency:        record.Currency,

		ReconciliationRequired: record.ReconciliationRequired,
	}
	if record.State == enums.LedgerStateFailed {
		res.Error = &ResultError{Code: deref(record.FailureCode), Message: deref(record.FailureMessage)}
	}
	return res
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
