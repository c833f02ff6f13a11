package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/metrics"
)

// ReasonInFlight marks a duplicate whose winner never reached a terminal state
// within the wait window.
const ReasonInFlight = "payment_in_flight"

// Reader looks up ledger records by idempotency key.
type Reader interface {
	GetByKey(ctx context.Context, key string) (*models.LedgerRecord, error)
}

// Policy bounds how long a duplicate waits for the winning attempt.
type Policy struct {
	Wait         time.Duration
	PollInterval time.Duration
}

// Guard answers whether a key has already been used and, for in-flight duplicates,
// waits for the winner's outcome.
type Guard struct {
	reader  Reader
	policy  Policy
	metrics *metrics.PaymentMetrics
}

// NewGuard builds a Guard over reader.
func NewGuard(reader Reader, policy Policy, m *metrics.PaymentMetrics) (*Guard, error) {
	if reader == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger reader required")
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = 100 * time.Millisecond
	}
	if policy.Wait < 0 {
		policy.Wait = 0
	}
	return &Guard{reader: reader, policy: policy, metrics: m}, nil
}

// Check returns the record already holding key, or nil when the key is unused.
// A pending record is waited on; if it stays pending the returned error is a
// CONFLICT carrying the winner's ledger id.
func (g *Guard) Check(ctx context.Context, key string) (*models.LedgerRecord, error) {
	record, err := g.reader.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check idempotency key")
	}
	return g.awaitTerminal(ctx, key, record)
}

// ResolveConflict re-reads the winner after a losing insert on key.
func (g *Guard) ResolveConflict(ctx context.Context, key string) (*models.LedgerRecord, error) {
	record, err := g.reader.GetByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load winning attempt")
	}
	return g.awaitTerminal(ctx, key, record)
}

func (g *Guard) awaitTerminal(ctx context.Context, key string, record *models.LedgerRecord) (*models.LedgerRecord, error) {
	if record.State.IsTerminal() {
		return record, nil
	}
	g.metrics.IncInFlightDuplicate()

	deadline := time.NewTimer(g.policy.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(g.policy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, inFlight(record)
		case <-deadline.C:
			return nil, inFlight(record)
		case <-ticker.C:
			latest, err := g.reader.GetByKey(ctx, key)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "poll winning attempt")
			}
			if latest.State.IsTerminal() {
				return latest, nil
			}
			record = latest
		}
	}
}

func inFlight(record *models.LedgerRecord) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "payment with this idempotency key is in progress").WithDetails(map[string]any{
		"reason":    ReasonInFlight,
		"ledger_id": record.ID.String(),
	})
}
