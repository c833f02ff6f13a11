package merchants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/fees"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// FeeProfile is a merchant's fee schedule together with the processor location
// that receives its funds.
type FeeProfile struct {
	MerchantID        uuid.UUID
	GatewayLocationID string
	Fees              fees.Profile
}

// Repository reads merchant fee profiles and the draft kinds each merchant accepts.
type Repository interface {
	GetFeeProfile(ctx context.Context, merchantID uuid.UUID) (*FeeProfile, error)
	CheckDraftKind(ctx context.Context, merchantID uuid.UUID, kind enums.EntityType) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a gorm-backed merchant repository.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

// GetFeeProfile returns NOT_FOUND for unknown merchants and a validation error
// for a profile that cannot be applied.
func (r *repository) GetFeeProfile(ctx context.Context, merchantID uuid.UUID) (*FeeProfile, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", merchantID).Take(&merchant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
	}
	if merchant.GatewayLocationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant has no processor location").WithDetails(map[string]any{
			"reason": fees.ReasonInvalidFeeConfiguration,
		})
	}
	return &FeeProfile{
		MerchantID:        merchant.ID,
		GatewayLocationID: merchant.GatewayLocationID,
		Fees: fees.Profile{
			CardBasisPoints:   merchant.CardBasisPoints,
			CardFixedFeeCents: merchant.CardFixedFeeCents,
			ACHBasisPoints:    merchant.ACHBasisPoints,
			ACHFixedFeeCents:  merchant.ACHFixedFeeCents,
		},
	}, nil
}

// CheckDraftKind rejects a create-and-pay request naming a merchant that does
// not collect for kind.
func (r *repository) CheckDraftKind(ctx context.Context, merchantID uuid.UUID, kind enums.EntityType) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MerchantDraftKind{}).
		Where("merchant_id = ? AND entity_type = ?", merchantID, kind).
		Count(&count).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant draft kinds")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant does not accept this entity type").WithDetails(map[string]any{
			"reason": "invalid_request",
			"field":  "merchant_id",
		})
	}
	return nil
}
