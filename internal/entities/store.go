package entities

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
)

// ErrStaleEntity reports a guarded write that matched no row.
var ErrStaleEntity = errors.New("entities: entity changed or no longer exists")

// Guard restricts an update to rows still in the expected state.
type Guard struct {
	PaymentStatus enums.PaymentStatus
	Statuses      []enums.EntityStatus
}

// Store reads and writes payable entities across the per-kind tables.
type Store interface {
	WithTx(tx *gorm.DB) Store
	GetPayableEntity(ctx context.Context, t enums.EntityType, id uuid.UUID) (*models.Payable, error)
	UpdateEntityStatus(ctx context.Context, t enums.EntityType, id uuid.UUID, guard Guard, fields map[string]any) error
	CreatePending(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, t enums.EntityType, id uuid.UUID, originKey string) error
}

type store struct {
	db *gorm.DB
}

// NewStore returns a gorm-backed entity store.
func NewStore(conn *gorm.DB) Store {
	return &store{db: conn}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

func (s *store) GetPayableEntity(ctx context.Context, t enums.EntityType, id uuid.UUID) (*models.Payable, error) {
	spec, err := specOrError(t)
	if err != nil {
		return nil, err
	}
	var payable models.Payable
	if err := s.db.WithContext(ctx).Table(spec.Table).Where("id = ?", id).Take(&payable).Error; err != nil {
		return nil, err
	}
	return &payable, nil
}

func (s *store) UpdateEntityStatus(ctx context.Context, t enums.EntityType, id uuid.UUID, guard Guard, fields map[string]any) error {
	spec, err := specOrError(t)
	if err != nil {
		return err
	}
	q := s.db.WithContext(ctx).Table(spec.Table).Where("id = ?", id)
	if guard.PaymentStatus != "" {
		q = q.Where("payment_status = ?", guard.PaymentStatus)
	}
	if len(guard.Statuses) > 0 {
		q = q.Where("status IN ?", guard.Statuses)
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleEntity
	}
	return nil
}

// CreatePending inserts a draft built for a create-and-pay request.
func (s *store) CreatePending(ctx context.Context, e *Entity) error {
	if e == nil || e.row == nil {
		return fmt.Errorf("entities: no draft row to create")
	}
	return s.db.WithContext(ctx).Create(e.row).Error
}

// Delete removes an entity created by the attempt holding originKey. Paid rows and
// rows from other attempts are never touched.
func (s *store) Delete(ctx context.Context, t enums.EntityType, id uuid.UUID, originKey string) error {
	spec, err := specOrError(t)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Table(spec.Table).
		Where("id = ? AND origin_idempotency_key = ? AND payment_status = ?", id, originKey, enums.PaymentStatusUnpaid).
		Delete(&models.Payable{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleEntity
	}
	return nil
}

func specOrError(t enums.EntityType) (KindSpec, error) {
	spec, ok := SpecFor(t)
	if !ok {
		return KindSpec{}, fmt.Errorf("entities: unknown entity type %q", t)
	}
	return spec, nil
}
