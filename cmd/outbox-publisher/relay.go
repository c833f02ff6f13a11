package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txDB interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(topic string) publisher
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type deliveryRecorder interface {
	ObserveDelivery(eventType, result string, publish time.Duration)
}

// RelayParams wires the relay's collaborators.
type RelayParams struct {
	Outbox   config.OutboxConfig
	Logger   *logger.Logger
	DB       txDB
	Topics   topicSource
	Rows     outboxRows
	DLQ      deadLetters
	Resolver eventResolver
	Metrics  deliveryRecorder
}

// Relay moves payment outcome events from outbox_events to Pub/Sub. Each poll
// claims a batch inside one transaction, so two relays never deliver the same row.
type Relay struct {
	logg           *logger.Logger
	db             txDB
	topics         topicSource
	rows           outboxRows
	dlq            deadLetters
	resolver       eventResolver
	metrics        deliveryRecorder
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

// NewRelay validates params and applies defaults.
func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Resolver == nil:
		return nil, errors.New("event registry is required")
	}

	r := &Relay{
		logg:           params.Logger,
		db:             params.DB,
		topics:         params.Topics,
		rows:           params.Rows,
		dlq:            params.DLQ,
		resolver:       params.Resolver,
		metrics:        params.Metrics,
		batchSize:      params.Outbox.BatchSize,
		maxAttempts:    params.Outbox.MaxAttempts,
		pollInterval:   time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r, nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by the
// next poll; an empty one waits a poll interval; a failing one backs off.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.checkDependencies(ctx); err != nil {
		return err
	}

	wait := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		claimed, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = nextBackoff(wait, r.pollInterval, maxIdleBackoff)
		case claimed == r.batchSize:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}

		if err := sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

func (r *Relay) checkDependencies(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		r.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		r.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// drain claims one batch and settles every row in it. It returns how many rows it claimed.
func (r *Relay) drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			d := r.deliver(ctx, event)
			if err := r.settle(ctx, tx, event, d); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}
