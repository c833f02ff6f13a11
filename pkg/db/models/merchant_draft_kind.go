package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/enums"
)

// MerchantDraftKind allows residents to create and pay entities of EntityType
// against MerchantID in a single request.
type MerchantDraftKind struct {
	MerchantID uuid.UUID        `gorm:"column:merchant_id;type:uuid;primaryKey"`
	EntityType enums.EntityType `gorm:"column:entity_type;type:entity_type;primaryKey"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
}
