package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cityportal/payments-backend/pkg/db/models"
	"github.com/cityportal/payments-backend/pkg/enums"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

type scriptedReader struct {
	mu      sync.Mutex
	states  []enums.LedgerState
	calls   int
	id      uuid.UUID
	missing bool
	err     error
}

func (r *scriptedReader) GetByKey(ctx context.Context, key string) (*models.LedgerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.missing {
		return nil, gorm.ErrRecordNotFound
	}
	idx := r.calls
	if idx >= len(r.states) {
		idx = len(r.states) - 1
	}
	r.calls++
	return &models.LedgerRecord{ID: r.id, IdempotencyKey: key, State: r.states[idx]}, nil
}

func newGuard(t *testing.T, reader Reader, wait time.Duration) *Guard {
	t.Helper()
	guard, err := NewGuard(reader, Policy{Wait: wait, PollInterval: 5 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return guard
}

func TestCheckUnusedKey(t *testing.T) {
	guard := newGuard(t, &scriptedReader{missing: true}, time.Second)
	record, err := guard.Check(context.Background(), "fresh")
	if err != nil || record != nil {
		t.Fatalf("expected no record, got %v %v", record, err)
	}
}

func TestCheckTerminalRecordReturnsImmediately(t *testing.T) {
	reader := &scriptedReader{id: uuid.New(), states: []enums.LedgerState{enums.LedgerStateSucceeded}}
	guard := newGuard(t, reader, time.Second)

	record, err := guard.Check(context.Background(), "done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.State != enums.LedgerStateSucceeded || reader.calls != 1 {
		t.Fatalf("expected a single read of the terminal record, got %d reads", reader.calls)
	}
}

func TestCheckWaitsForWinner(t *testing.T) {
	reader := &scriptedReader{id: uuid.New(), states: []enums.LedgerState{
		enums.LedgerStatePending,
		enums.LedgerStatePending,
		enums.LedgerStateFailed,
	}}
	guard := newGuard(t, reader, time.Second)

	record, err := guard.Check(context.Background(), "racing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.State != enums.LedgerStateFailed {
		t.Fatalf("expected the winner's terminal state, got %s", record.State)
	}
}

func TestCheckInFlightAfterWait(t *testing.T) {
	id := uuid.New()
	guard := newGuard(t, &scriptedReader{id: id, states: []enums.LedgerState{enums.LedgerStatePending}}, 20*time.Millisecond)

	_, err := guard.Check(context.Background(), "stuck")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["ledger_id"] != id.String() || details["reason"] != ReasonInFlight {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
}

func TestCheckZeroWaitReportsInFlight(t *testing.T) {
	guard := newGuard(t, &scriptedReader{id: uuid.New(), states: []enums.LedgerState{enums.LedgerStatePending}}, 0)
	_, err := guard.Check(context.Background(), "stuck")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResolveConflictRequiresWinner(t *testing.T) {
	guard := newGuard(t, &scriptedReader{err: errors.New("db down")}, time.Second)
	_, err := guard.ResolveConflict(context.Background(), "k")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
