package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/enums"
)

// PaymentOutcomeEvent is published once per ledger record when it reaches a
// terminal state. Downstream review queues and receipts key off ledger_id.
type PaymentOutcomeEvent struct {
	LedgerID          uuid.UUID               `json:"ledger_id"`
	OwnerID           uuid.UUID               `json:"owner_id"`
	EntityType        enums.EntityType        `json:"entity_type"`
	EntityID          uuid.UUID               `json:"entity_id"`
	MerchantID        uuid.UUID               `json:"merchant_id"`
	State             enums.LedgerState       `json:"state"`
	Rail              enums.PaymentRail       `json:"rail"`
	MethodType        enums.PaymentMethodType `json:"method_type"`
	BaseAmountCents   int64                   `json:"base_amount_cents"`
	FeeCents          int64                   `json:"fee_cents"`
	TotalAmountCents  int64                   `json:"total_amount_cents"`
	Currency          string                  `json:"currency"`
	GatewayTransferID *string                 `json:"gateway_transfer_id,omitempty"`
	FailureCode       *string                 `json:"failure_code,omitempty"`
	FailureMessage    *string                 `json:"failure_message,omitempty"`
	FinalizedAt       time.Time               `json:"finalized_at"`
}
