package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/enums"
)

// PaymentInstrument is a funding source a resident saved with the gateway.
type PaymentInstrument struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID             uuid.UUID               `gorm:"column:owner_id;type:uuid;not null;index"`
	MethodType          enums.PaymentMethodType `gorm:"column:method_type;type:payment_method_type;not null;default:'card'"`
	GatewayCustomerID   *string                 `gorm:"column:gateway_customer_id"`
	GatewayInstrumentID string                  `gorm:"column:gateway_instrument_id;not null;unique"`
	Brand               *string                 `gorm:"column:brand"`
	LastFour            *string                 `gorm:"column:last_four"`
	Enabled             bool                    `gorm:"column:enabled;not null"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
