package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	"github.com/cityportal/payments-backend/pkg/outbox"
	"github.com/cityportal/payments-backend/pkg/outbox/payloads"
)

// Route is where an outcome event type is delivered.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is a stored outbox row decoded into its payment outcome.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Outcome  *payloads.PaymentOutcomeEvent
}

// EventRegistry routes payment outcome events to the payments topic.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NonRetryableError marks a row that will never publish no matter how often it is retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err so the relay dead-letters the row.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// NewEventRegistry builds the routes for every payment outcome event type.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.PaymentsTopic == "" {
		return nil, fmt.Errorf("payments topic is required")
	}
	routes := make(map[enums.OutboxEventType]Route, 2)
	for _, eventType := range []enums.OutboxEventType{enums.EventPaymentSucceeded, enums.EventPaymentFailed} {
		routes[eventType] = Route{
			EventType:     eventType,
			AggregateType: enums.AggregateLedgerRecord,
			Topic:         cfg.PaymentsTopic,
		}
	}
	return &EventRegistry{routes: routes}, nil
}

// Resolve checks the row against its route and decodes the outcome payload.
// Every error it returns is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if route.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", route.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if envelope.Version > outbox.EnvelopeVersion {
		return nil, NewNonRetryableError(fmt.Errorf("envelope version %d not supported", envelope.Version))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	var outcome payloads.PaymentOutcomeEvent
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if outcome.LedgerID != event.AggregateID {
		return nil, NewNonRetryableError(fmt.Errorf("payload ledger_id %s does not match aggregate %s", outcome.LedgerID, event.AggregateID))
	}
	if !stateMatches(event.EventType, outcome.State) {
		return nil, NewNonRetryableError(fmt.Errorf("%s event carries ledger state %s", event.EventType, outcome.State))
	}

	return &ResolvedEvent{Route: route, Envelope: envelope, Outcome: &outcome}, nil
}

func stateMatches(eventType enums.OutboxEventType, state enums.LedgerState) bool {
	switch eventType {
	case enums.EventPaymentSucceeded:
		return state == enums.LedgerStateSucceeded
	case enums.EventPaymentFailed:
		return state == enums.LedgerStateFailed
	default:
		return false
	}
}
