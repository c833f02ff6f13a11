package entities

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// Synchronizer applies payment outcomes to payable entities.
type Synchronizer struct {
	store Store
	now   func() time.Time
}

// NewSynchronizer builds a Synchronizer over store.
func NewSynchronizer(store Store) (*Synchronizer, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entity store required")
	}
	return &Synchronizer{store: store, now: time.Now}, nil
}

// WithTx binds the synchronizer to an open transaction.
func (s *Synchronizer) WithTx(tx *gorm.DB) *Synchronizer {
	return &Synchronizer{store: s.store.WithTx(tx), now: s.now}
}

// Resolve loads an existing entity and checks that principalID may pay it now.
// Entities owned by someone else are reported as missing.
func (s *Synchronizer) Resolve(ctx context.Context, t enums.EntityType, id, principalID uuid.UUID) (*Entity, error) {
	if _, ok := SpecFor(t); !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown entity type").WithDetails(map[string]any{"reason": "invalid_entity_type"})
	}
	payable, err := s.store.GetPayableEntity(ctx, t, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entity not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load entity")
	}
	if payable.OwnerID != principalID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entity not found")
	}
	if payable.PaymentStatus == enums.PaymentStatusPaid || !IsPayableStatus(payable.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entity is not payable").WithDetails(map[string]any{
			"reason":         "entity_not_payable",
			"status":         payable.Status,
			"payment_status": payable.PaymentStatus,
		})
	}
	return &Entity{Type: t, Payable: payable}, nil
}

// CreatePending inserts a draft built by BuildDraft.
func (s *Synchronizer) CreatePending(ctx context.Context, e *Entity) error {
	if err := s.store.CreatePending(ctx, e); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create entity draft")
	}
	return nil
}

// Commit marks e paid and advances its workflow status.
func (s *Synchronizer) Commit(ctx context.Context, e *Entity) error {
	spec := e.Spec()
	next := spec.SuccessStatus()
	if !spec.CanTransition(e.Status, next) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "entity cannot advance").WithDetails(map[string]any{
			"from": e.Status,
			"to":   next,
		})
	}

	paidAt := s.now().UTC()
	err := s.store.UpdateEntityStatus(ctx, e.Type, e.ID, Guard{
		PaymentStatus: enums.PaymentStatusUnpaid,
		Statuses:      []enums.EntityStatus{e.Status},
	}, map[string]any{
		"payment_status": enums.PaymentStatusPaid,
		"paid_at":        paidAt,
		"status":         next,
		"updated_at":     paidAt,
	})
	if err != nil {
		return err
	}
	e.PaymentStatus = enums.PaymentStatusPaid
	e.PaidAt = &paidAt
	e.Status = next
	return nil
}

// Compensate undoes entity side effects of a failed attempt. Pre-existing entities
// are left untouched. e is not modified, so a rolled-back transaction may retry it.
func (s *Synchronizer) Compensate(ctx context.Context, e *Entity) error {
	if e == nil || !e.CreatedInAttempt {
		return nil
	}
	key := ""
	if e.OriginIdempotencyKey != nil {
		key = *e.OriginIdempotencyKey
	}
	err := s.store.Delete(ctx, e.Type, e.ID, key)
	if errors.Is(err, ErrStaleEntity) {
		// already removed, or paid by a later attempt
		return nil
	}
	return err
}

// IsConflict reports whether err means the entity moved on underneath a commit,
// as opposed to a failed write.
func IsConflict(err error) bool {
	if errors.Is(err, ErrStaleEntity) {
		return true
	}
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeStateConflict
}
