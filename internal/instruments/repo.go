package instruments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db"
	"github.com/cityportal/payments-backend/pkg/db/models"
)

// ErrDuplicateInstrument reports an instrument already enrolled with the gateway id.
var ErrDuplicateInstrument = errors.New("instruments: gateway instrument already enrolled")

// Repository persists stored payment instruments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetInstrument(ctx context.Context, id, ownerID uuid.UUID) (*models.PaymentInstrument, error)
	Create(ctx context.Context, instrument *models.PaymentInstrument) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PaymentInstrument, error)
	Disable(ctx context.Context, id, ownerID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a gorm-backed instrument repository.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// GetInstrument scopes the lookup to ownerID so another resident's instrument is
// indistinguishable from a missing one.
func (r *repository) GetInstrument(ctx context.Context, id, ownerID uuid.UUID) (*models.PaymentInstrument, error) {
	var instrument models.PaymentInstrument
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&instrument).Error
	if err != nil {
		return nil, err
	}
	return &instrument, nil
}

func (r *repository) Create(ctx context.Context, instrument *models.PaymentInstrument) error {
	if instrument.ID == uuid.Nil {
		instrument.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(instrument).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateInstrument
		}
		return err
	}
	return nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PaymentInstrument, error) {
	var out []models.PaymentInstrument
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND enabled = ?", ownerID, true).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *repository) Disable(ctx context.Context, id, ownerID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentInstrument{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("enabled", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
