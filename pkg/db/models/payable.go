package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/enums"
)

// Payable holds the columns every payable entity table shares. Each kind embeds it.
type Payable struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID              uuid.UUID           `gorm:"column:owner_id;type:uuid;not null;index"`
	MerchantID           uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null"`
	Status               enums.EntityStatus  `gorm:"column:status;type:entity_status;not null;default:'draft'"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`
	BaseAmountCents      int64               `gorm:"column:base_amount_cents;not null"`
	PaidAt               *time.Time          `gorm:"column:paid_at"`
	OriginIdempotencyKey *string             `gorm:"column:origin_idempotency_key"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Bill is an amount owed for a metered municipal service (water, refuse).
type Bill struct {
	Payable
	AccountNumber string     `gorm:"column:account_number;not null"`
	Description   string     `gorm:"column:description"`
	DueDate       *time.Time `gorm:"column:due_date"`
}

// Permit is a construction or right-of-way permit application.
type Permit struct {
	Payable
	PermitType  string `gorm:"column:permit_type;not null"`
	SiteAddress string `gorm:"column:site_address;not null"`
	Description string `gorm:"column:description"`
}

// BusinessLicense is a new or renewing license to operate in the city.
type BusinessLicense struct {
	Payable
	BusinessName string `gorm:"column:business_name;not null"`
	LicenseClass string `gorm:"column:license_class;not null"`
}

// TaxSubmission is a self-assessed filing created and paid in one step.
type TaxSubmission struct {
	Payable
	TaxType string `gorm:"column:tax_type;not null"`
	Period  string `gorm:"column:period;not null"`
}

// ServiceApplication is a request for a one-off city service created and paid in one step.
type ServiceApplication struct {
	Payable
	ServiceType string `gorm:"column:service_type;not null"`
	Description string `gorm:"column:description"`
}
