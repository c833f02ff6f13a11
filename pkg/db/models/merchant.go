package models

import (
	"time"

	"github.com/google/uuid"
)

// Merchant is a city department that receives funds. Its fee profile holds one
// basis-points/fixed-fee pair per rail.
type Merchant struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string    `gorm:"column:name;not null"`
	GatewayLocationID string    `gorm:"column:gateway_location_id;not null"`
	CardBasisPoints   int64     `gorm:"column:card_basis_points;not null;default:0"`
	CardFixedFeeCents int64     `gorm:"column:card_fixed_fee_cents;not null;default:0"`
	ACHBasisPoints    int64     `gorm:"column:ach_basis_points;not null;default:0"`
	ACHFixedFeeCents  int64     `gorm:"column:ach_fixed_fee_cents;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
