package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cityportal/payments-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "maintenance-test", Output: io.Discard})
	registry := mustRegistry(t, &testJob{name: "success"}, &testJob{name: "fail", err: errors.New("boom")})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     &fakeLock{},
		Interval: 0,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if success, ok := jobs[0].(*testJob); ok {
		if success.runs != 1 {
			t.Fatalf("expected success job to run once, ran %d", success.runs)
		}
	} else {
		t.Fatalf("first job type mismatch")
	}
	if failure, ok := jobs[1].(*testJob); ok {
		if failure.runs != 1 {
			t.Fatalf("expected failure job to run once, ran %d", failure.runs)
		}
	} else {
		t.Fatalf("second job type mismatch")
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "outbox-retention"}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "maintenance-test", Output: io.Discard}),
		Registry: mustRegistry(t, job),
		Lock:     &fakeLock{acquired: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "maintenance-test", Output: io.Discard})}); err == nil {
		t.Fatal("expected missing lock to be rejected")
	}
}

type panicJob struct{}

func (panicJob) Name() string              { return "panics" }
func (panicJob) Run(context.Context) error { panic("nil map write") }

func TestServiceRunCycleIsolatesPanickingJob(t *testing.T) {
	after := &testJob{name: "after"}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "maintenance-test", Output: io.Discard}),
		Registry: mustRegistry(t, panicJob{}, after),
		Lock:     &fakeLock{},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if after.runs != 1 {
		t.Fatal("jobs after a panicking job must still run")
	}
}

func TestCycleTimeoutStaysInsideLease(t *testing.T) {
	lock, err := NewRedisLock(&memoryLockStore{values: map[string]string{}}, "k", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	if got := cycleTimeout(0, lock); got != 25*time.Minute {
		t.Fatalf("expected 25m, got %v", got)
	}
	if got := cycleTimeout(0, &fakeLock{}); got != defaultLockTTL-cycleMargin {
		t.Fatalf("expected default-derived timeout, got %v", got)
	}
	if got := cycleTimeout(2*time.Minute, lock); got != 2*time.Minute {
		t.Fatalf("explicit timeout must win, got %v", got)
	}
}

func mustRegistry(t *testing.T, jobs ...Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}
