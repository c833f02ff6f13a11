package payments

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/internal/ledger"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/outbox"
	"github.com/cityportal/payments-backend/pkg/outbox/payloads"
)

// EventEmitter queues domain events in the caller's transaction.
type EventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

func (s *Service) emitOutcome(ctx context.Context, tx *gorm.DB, record *models.LedgerRecord, fin ledger.Finalization) error {
	if s.events == nil {
		return nil
	}
	snapshot := *record
	applyFinalization(&snapshot, fin)
	event, err := outcomeEvent(&snapshot, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.events.EmitIfNotExists(ctx, tx, event)
}

func outcomeEvent(record *models.LedgerRecord, at time.Time) (outbox.DomainEvent, error) {
	eventType, ok := enums.OutcomeEventFor(record.State)
	if !ok {
		return outbox.DomainEvent{}, fmt.Errorf("ledger record %s is %s; only terminal states emit events", record.ID, record.State)
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLedgerRecord,
		AggregateID:   record.ID,
		Actor:         &outbox.ActorRef{UserID: record.OwnerID},
		OccurredAt:    at,
		Data: payloads.PaymentOutcomeEvent{
			LedgerID:          record.ID,
			OwnerID:           record.OwnerID,
			EntityType:        record.EntityType,
			EntityID:          record.EntityID,
			MerchantID:        record.MerchantID,
			State:             record.State,
			Rail:              record.Rail,
			MethodType:        record.MethodType,
			BaseAmountCents:   record.BaseAmountCents,
			FeeCents:          record.FeeCents,
			TotalAmountCents:  record.TotalAmountCents,
			Currency:          record.Currency,
			GatewayTransferID: record.GatewayTransferID,
			FailureCode:       record.FailureCode,
			FailureMessage:    record.FailureMessage,
			FinalizedAt:       at,
		},
	}, nil
}
