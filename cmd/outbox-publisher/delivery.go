package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/metrics"
	"github.com/cityportal/payments-backend/pkg/outbox/registry"
)

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictDeadLetter
)

func (v verdict) String() string {
	switch v {
	case verdictPublished:
		return metrics.RelayPublished
	case verdictRetry:
		return metrics.RelayRetry
	default:
		return metrics.RelayDeadLetter
	}
}

// delivery is the outcome of one publish attempt for one outbox row.
type delivery struct {
	verdict  verdict
	reason   enums.OutboxDLQErrorReason
	err      error
	resolved *registry.ResolvedEvent
	publish  time.Duration
}

// deliver resolves and publishes event without touching the database.
func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := r.resolver.Resolve(event)
	if err != nil {
		return delivery{verdict: verdictDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}

	d := delivery{resolved: resolved}
	started := r.now()
	err = r.publish(ctx, event, resolved)
	if err == nil {
		d.verdict = verdictPublished
		d.publish = r.now().Sub(started)
		return d
	}

	d.err = err
	switch {
	case registry.IsNonRetryable(err):
		d.verdict, d.reason = verdictDeadLetter, enums.OutboxDLQReasonNonRetryable
	case event.AttemptCount+1 >= r.maxAttempts:
		d.verdict, d.reason = verdictDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.verdict = verdictRetry
	}
	return d
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Route.Topic
	pub := r.topics.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, outcomeMessage(event, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// outcomeMessage carries the stored envelope verbatim; subscribers filter on the attributes.
func outcomeMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     event.EventType.String(),
		"aggregate_type": event.AggregateType.String(),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if outcome := resolved.Outcome; outcome != nil {
		attrs["entity_type"] = outcome.EntityType.String()
		attrs["ledger_state"] = outcome.State.String()
		attrs["rail"] = string(outcome.Rail)
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

// settle records the delivery on the claimed row inside the batch transaction.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	if r.metrics != nil {
		r.metrics.ObserveDelivery(event.EventType.String(), d.verdict.String(), d.publish)
	}
	logCtx := r.logg.WithFields(ctx, r.eventFields(event, d))

	switch d.verdict {
	case verdictPublished:
		if err := r.rows.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(logCtx, "payment event published")
	case verdictRetry:
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "payment event publish failed; will retry")
		if err := r.rows.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	default:
		r.logg.Warn(r.logg.WithField(logCtx, "error", d.err.Error()), "payment event moved to dlq")
		entry := models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  errorText(d.err),
			AttemptCount:  event.AttemptCount,
			FailedAt:      r.now().UTC(),
		}
		if err := r.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := r.rows.MarkTerminalTx(tx, event.ID, d.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	return nil
}

func (r *Relay) eventFields(event models.OutboxEvent, d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"ledger_id":     event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
		"result":        d.verdict.String(),
	}
	if d.verdict == verdictRetry {
		fields["attempt_count"] = event.AttemptCount + 1
	}
	if d.verdict == verdictDeadLetter {
		fields["error_reason"] = d.reason
	}
	if d.resolved != nil {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["topic"] = d.resolved.Route.Topic
		if outcome := d.resolved.Outcome; outcome != nil {
			fields["entity_type"] = outcome.EntityType
			fields["entity_id"] = outcome.EntityID.String()
		}
	}
	return fields
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < limit {
		return next
	}
	return limit
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
