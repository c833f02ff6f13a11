package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/outbox"
	"github.com/cityportal/payments-backend/pkg/outbox/payloads"
)

func TestResolveDecodesOutcome(t *testing.T) {
	reg := newTestEventRegistry(t)
	ledgerID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregateLedgerRecord,
		AggregateID:   ledgerID,
		Payload: envelopeFor(t, 1, payloads.PaymentOutcomeEvent{
			LedgerID:         ledgerID,
			EntityType:       enums.EntityTypePermit,
			State:            enums.LedgerStateSucceeded,
			TotalAmountCents: 10330,
		}),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "payments-topic", resolved.Route.Topic)
	assert.Equal(t, enums.EntityTypePermit, resolved.Outcome.EntityType)
	assert.Equal(t, int64(10330), resolved.Outcome.TotalAmountCents)
	assert.NotEmpty(t, resolved.Envelope.EventID)
}

func TestResolveRejects(t *testing.T) {
	reg := newTestEventRegistry(t)
	ledgerID := uuid.New()
	failed := payloads.PaymentOutcomeEvent{LedgerID: ledgerID, State: enums.LedgerStateFailed}

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("payment_refunded"),
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   ledgerID,
			Payload:       envelopeFor(t, 1, failed),
		},
		"aggregate mismatch": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.OutboxAggregateType("bill"),
			AggregateID:   ledgerID,
			Payload:       envelopeFor(t, 1, failed),
		},
		"missing aggregate id": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateLedgerRecord,
			Payload:       envelopeFor(t, 1, failed),
		},
		"null payload": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   ledgerID,
			Payload:       envelopeFor(t, 1, nil),
		},
		"ledger id mismatch": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   uuid.New(),
			Payload:       envelopeFor(t, 1, failed),
		},
		"state disagrees with event type": {
			EventType:     enums.EventPaymentSucceeded,
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   ledgerID,
			Payload:       envelopeFor(t, 1, failed),
		},
		"future envelope version": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   ledgerID,
			Payload:       envelopeFor(t, 2, failed),
		},
		"broken envelope": {
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateLedgerRecord,
			AggregateID:   ledgerID,
			Payload:       json.RawMessage(`{"data":`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			require.Error(t, err)
			assert.True(t, IsNonRetryable(err), "expected non-retryable, got %T", err)
		})
	}
}

func TestIsNonRetryable(t *testing.T) {
	assert.False(t, IsNonRetryable(errors.New("deadline exceeded")))
	assert.True(t, IsNonRetryable(NewNonRetryableError(errors.New("bad payload"))))
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	require.Error(t, err)
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{PaymentsTopic: "payments-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeFor(t *testing.T, version int, outcome any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}
