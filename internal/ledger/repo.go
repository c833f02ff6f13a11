package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/types"
)

var (
	// ErrDuplicateKey reports that another attempt already reserved the idempotency key.
	ErrDuplicateKey = errors.New("ledger: idempotency key already reserved")
	// ErrNotPending reports a finalize against a row that already reached a terminal state.
	ErrNotPending = errors.New("ledger: record is not pending")
)

// Finalization is the terminal write applied to a pending record.
type Finalization struct {
	State               enums.LedgerState
	GatewayInstrumentID string
	GatewayTransferID   string
	FailureCode         string
	FailureMessage      string
	RawPayload          json.RawMessage
}

// Repository persists payment attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, record *models.LedgerRecord) error
	Finalize(ctx context.Context, id uuid.UUID, fin Finalization) error
	GetByKey(ctx context.Context, key string) (*models.LedgerRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerRecord, error)
	GetByEntity(ctx context.Context, entityType enums.EntityType, entityID uuid.UUID) ([]models.LedgerRecord, error)
	MarkReconciliationRequired(ctx context.Context, id uuid.UUID, transferID, reason string) error
	ListReconciliationRequired(ctx context.Context, limit int) ([]models.LedgerRecord, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// Insert writes a pending record. A unique violation on idempotency_key yields ErrDuplicateKey.
func (r *repository) Insert(ctx context.Context, record *models.LedgerRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.State = enums.LedgerStatePending
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// Finalize moves a pending record to its terminal state in one guarded UPDATE.
func (r *repository) Finalize(ctx context.Context, id uuid.UUID, fin Finalization) error {
	if !fin.State.IsTerminal() {
		return errors.New("ledger: finalize requires a terminal state")
	}
	now := r.now().UTC()
	updates := map[string]any{
		"state":                 fin.State,
		"gateway_instrument_id": nullable(fin.GatewayInstrumentID),
		"gateway_transfer_id":   nullable(fin.GatewayTransferID),
		"failure_code":          nullable(fin.FailureCode),
		"failure_message":       nullable(fin.FailureMessage),
		"finalized_at":          now,
		"updated_at":            now,
	}
	if len(fin.RawPayload) > 0 {
		updates["raw_payload"] = types.JSONPayload(fin.RawPayload)
	}
	res := r.db.WithContext(ctx).
		Model(&models.LedgerRecord{}).
		Where("id = ? AND state = ?", id, enums.LedgerStatePending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *repository) GetByKey(ctx context.Context, key string) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByEntity lists every attempt against an entity, newest first.
func (r *repository) GetByEntity(ctx context.Context, entityType enums.EntityType, entityID uuid.UUID) ([]models.LedgerRecord, error) {
	var records []models.LedgerRecord
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkReconciliationRequired flags a record whose processor outcome could not be
// fully applied locally. A non-empty transferID is kept unless the row already has one.
func (r *repository) MarkReconciliationRequired(ctx context.Context, id uuid.UUID, transferID, reason string) error {
	updates := map[string]any{
		"reconciliation_required": true,
		"reconciliation_reason":   reason,
		"updated_at":              r.now().UTC(),
	}
	if transferID != "" {
		updates["gateway_transfer_id"] = gorm.Expr("COALESCE(gateway_transfer_id, ?)", transferID)
	}
	return r.db.WithContext(ctx).
		Model(&models.LedgerRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListReconciliationRequired returns flagged records, oldest first.
func (r *repository) ListReconciliationRequired(ctx context.Context, limit int) ([]models.LedgerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []models.LedgerRecord
	if err := r.db.WithContext(ctx).
		Where("reconciliation_required = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
