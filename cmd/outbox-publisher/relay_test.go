package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/metrics"
	"github.com/cityportal/payments-backend/pkg/outbox"
	"github.com/cityportal/payments-backend/pkg/outbox/payloads"
	"github.com/cityportal/payments-backend/pkg/outbox/registry"
)

func TestDrainContinuesAfterTransientFailure(t *testing.T) {
	first := ledgerEvent(t, enums.EventPaymentSucceeded)
	second := ledgerEvent(t, enums.EventPaymentSucceeded)
	rows := &fakeRows{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []publishResult{
		fakeResult{err: errors.New("unavailable")},
		fakeResult{},
	}}
	recorder := &fakeRecorder{}
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, &fakeDLQ{}, recorder, config.OutboxConfig{BatchSize: 2, MaxAttempts: 5})

	claimed, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", claimed)
	}
	if len(rows.failed) != 1 || rows.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", rows.failed)
	}
	if len(rows.published) != 1 || rows.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", rows.published)
	}
	if recorder.results[metrics.RelayRetry] != 1 || recorder.results[metrics.RelayPublished] != 1 {
		t.Fatalf("unexpected recorded results %+v", recorder.results)
	}
}

func TestOutcomeMessageCarriesEnvelopeAndAttributes(t *testing.T) {
	event := ledgerEvent(t, enums.EventPaymentFailed)
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakeResult{}}}
	resolver := &fakeResolver{outcome: &payloads.PaymentOutcomeEvent{
		LedgerID:   event.AggregateID,
		EntityType: enums.EntityTypeBill,
		State:      enums.LedgerStateFailed,
		Rail:       enums.PaymentRailACH,
	}}
	relay := newTestRelay(t, rows, pub, resolver, &fakeDLQ{}, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	want := map[string]string{
		"event_type":   "payment_failed",
		"aggregate_id": event.AggregateID.String(),
		"entity_type":  "bill",
		"ledger_state": "failed",
		"rail":         "ach",
	}
	for k, v := range want {
		if msg.Attributes[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, msg.Attributes[k], v)
		}
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatal("message data must be the stored envelope")
	}
}

func TestDrainDeadLettersUnresolvableRow(t *testing.T) {
	event := ledgerEvent(t, enums.EventPaymentSucceeded)
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQ{}
	pub := &fakePublisher{}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("payload ledger_id mismatch"))}
	relay := newTestRelay(t, rows, pub, resolver, dlq, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.messages) != 0 {
		t.Fatal("unresolvable rows must not be published")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID || entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected dlq entry %+v", entry)
	}
	if !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatal("dlq must keep the original payload")
	}
	if len(rows.terminal) != 1 {
		t.Fatal("expected row marked terminal")
	}
}

func TestDrainDeadLettersAfterAttemptBudget(t *testing.T) {
	event := ledgerEvent(t, enums.EventPaymentSucceeded)
	event.AttemptCount = 2
	rows := &fakeRows{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQ{}
	pub := &fakePublisher{results: []publishResult{fakeResult{err: errors.New("deadline exceeded")}}}
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, dlq, nil, config.OutboxConfig{MaxAttempts: 3})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max_attempts dlq entry, got %+v", dlq.entries)
	}
	if len(rows.failed) != 0 {
		t.Fatal("a dead-lettered row is not also marked failed")
	}
}

func TestDrainMissingPublisherIsTerminal(t *testing.T) {
	rows := &fakeRows{events: []models.OutboxEvent{ledgerEvent(t, enums.EventPaymentSucceeded)}}
	dlq := &fakeDLQ{}
	relay := newTestRelay(t, rows, nil, &fakeResolver{}, dlq, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlq.entries)
	}
}

func TestDrainPropagatesBookkeepingFailure(t *testing.T) {
	rows := &fakeRows{
		events:     []models.OutboxEvent{ledgerEvent(t, enums.EventPaymentSucceeded)},
		publishErr: errors.New("connection reset"),
	}
	pub := &fakePublisher{results: []publishResult{fakeResult{}}}
	relay := newTestRelay(t, rows, pub, &fakeResolver{}, &fakeDLQ{}, nil, config.OutboxConfig{})

	if _, err := relay.drain(context.Background()); err == nil {
		t.Fatal("expected mark-published failure to abort the batch")
	}
}

func TestRunFailsWhenPubSubUnavailable(t *testing.T) {
	relay := newTestRelay(t, &fakeRows{}, &fakePublisher{}, &fakeResolver{}, &fakeDLQ{}, nil, config.OutboxConfig{})
	relay.topics = &fakeTopics{pingErr: errors.New("topic missing")}

	if err := relay.Run(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	relay := newTestRelay(t, &fakeRows{}, &fakePublisher{}, &fakeResolver{}, &fakeDLQ{}, nil, config.OutboxConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestNewRelayDefaults(t *testing.T) {
	relay := newTestRelay(t, &fakeRows{}, nil, &fakeResolver{}, &fakeDLQ{}, nil, config.OutboxConfig{})
	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts || relay.pollInterval != defaultPollInterval {
		t.Fatalf("unexpected defaults batch=%d attempts=%d poll=%v", relay.batchSize, relay.maxAttempts, relay.pollInterval)
	}
	if _, err := NewRelay(RelayParams{}); err == nil {
		t.Fatal("expected missing collaborators to be rejected")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected backoff %v", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected cap, got %v", got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter out of window: %v", got)
	}
}

func newTestRelay(t *testing.T, rows outboxRows, pub publisher, resolver eventResolver, dlq deadLetters, recorder deliveryRecorder, cfg config.OutboxConfig) *Relay {
	t.Helper()
	params := RelayParams{
		Outbox:   cfg,
		Logger:   logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:       fakeDB{},
		Topics:   &fakeTopics{pub: pub},
		Rows:     rows,
		DLQ:      dlq,
		Resolver: resolver,
	}
	if recorder != nil {
		params.Metrics = recorder
	}
	relay, err := NewRelay(params)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	return relay
}

func ledgerEvent(tb testing.TB, eventType enums.OutboxEventType) models.OutboxEvent {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateLedgerRecord,
		AggregateID:   uuid.New(),
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeTopics struct {
	pingErr error
	pub     publisher
}

func (f *fakeTopics) Ping(context.Context) error { return f.pingErr }

func (f *fakeTopics) Publisher(string) publisher { return f.pub }

type fakeRows struct {
	events     []models.OutboxEvent
	publishErr error
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
}

func (f *fakeRows) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRows) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRows) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRows) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQ struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

// fakeResolver routes every row to payments-topic unless err is set.
type fakeResolver struct {
	outcome *payloads.PaymentOutcomeEvent
	err     error
}

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Route:    registry.Route{EventType: event.EventType, AggregateType: event.AggregateType, Topic: "payments-topic"},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
		Outcome:  f.outcome,
	}, nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakeResult{}
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakeResult struct {
	err error
}

func (f fakeResult) Get(context.Context) (string, error) { return "msg-1", f.err }

type fakeRecorder struct {
	results map[string]int
}

func (f *fakeRecorder) ObserveDelivery(_, result string, _ time.Duration) {
	if f.results == nil {
		f.results = map[string]int{}
	}
	f.results[result]++
}
