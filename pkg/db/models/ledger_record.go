package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/types"
)

// LedgerRecord is one payment attempt. The unique idempotency key is the reservation
// that makes concurrent duplicates collapse onto a single row.
type LedgerRecord struct {
	ID                     uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdempotencyKey         string                  `gorm:"column:idempotency_key;not null;uniqueIndex"`
	OwnerID                uuid.UUID               `gorm:"column:owner_id;type:uuid;not null;index"`
	EntityType             enums.EntityType        `gorm:"column:entity_type;type:entity_type;not null"`
	EntityID               uuid.UUID               `gorm:"column:entity_id;type:uuid;not null"`
	MerchantID             uuid.UUID               `gorm:"column:merchant_id;type:uuid;not null"`
	State                  enums.LedgerState       `gorm:"column:state;type:ledger_state;not null;default:'pending'"`
	BaseAmountCents        int64                   `gorm:"column:base_amount_cents;not null"`
	FeeCents               int64                   `gorm:"column:fee_cents;not null"`
	TotalAmountCents       int64                   `gorm:"column:total_amount_cents;not null"`
	Currency               string                  `gorm:"column:currency;not null;default:'USD'"`
	Rail                   enums.PaymentRail       `gorm:"column:rail;type:payment_rail;not null"`
	MethodType             enums.PaymentMethodType `gorm:"column:method_type;type:payment_method_type;not null"`
	GatewayInstrumentID    *string                 `gorm:"column:gateway_instrument_id"`
	GatewayTransferID      *string                 `gorm:"column:gateway_transfer_id"`
	FailureCode            *string                 `gorm:"column:failure_code"`
	FailureMessage         *string                 `gorm:"column:failure_message"`
	RawPayload             types.JSONPayload       `gorm:"column:raw_payload;type:jsonb"`
	ReconciliationRequired bool                    `gorm:"column:reconciliation_required;not null;default:false"`
	ReconciliationReason   *string                 `gorm:"column:reconciliation_reason"`
	FinalizedAt            *time.Time              `gorm:"column:finalized_at"`
	CreatedAt              time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
