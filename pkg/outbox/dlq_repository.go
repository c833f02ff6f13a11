package outbox

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
)

const maxDLQErrorLen = 1024

// DLQRepository stores events the relay gave up on. Rows are audit records
// and are never deleted by retention.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records entry in tx, clipping the error message.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		entry.ErrorMessage = clip(*entry.ErrorMessage, maxDLQErrorLen)
	}
	return tx.Create(&entry).Error
}

// clip truncates message to limit bytes.
func clip(message string, limit int) *string {
	if len(message) > limit {
		message = message[:limit]
	}
	return &message
}
