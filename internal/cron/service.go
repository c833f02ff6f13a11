package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/metrics"
)

const (
	defaultInterval = time.Hour
	// cycleMargin keeps a cycle's deadline inside the lock lease.
	cycleMargin = 5 * time.Minute
)

// ServiceParams configure the maintenance service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Interval time.Duration
	// CycleTimeout bounds one pass over all jobs. Zero derives it from the lock TTL.
	CycleTimeout time.Duration
}

// Service runs the registered jobs on a fixed cadence on whichever replica holds the lock.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.JobMetrics
	interval     time.Duration
	cycleTimeout time.Duration
}

type ttlReporter interface {
	TTL() time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:         params.Logger,
		registry:     registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     interval,
		cycleTimeout: cycleTimeout(params.CycleTimeout, params.Lock),
	}, nil
}

func cycleTimeout(configured time.Duration, lock Lock) time.Duration {
	if configured > 0 {
		return configured
	}
	ttl := defaultLockTTL
	if r, ok := lock.(ttlReporter); ok && r.TTL() > 0 {
		ttl = r.TTL()
	}
	if ttl > 2*cycleMargin {
		return ttl - cycleMargin
	}
	return ttl / 2
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "maintenance cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "maintenance service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another maintenance instance holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release maintenance lock", relErr)
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	jobs := s.registry.Jobs()
	failed := 0
	for _, job := range jobs {
		if cycleCtx.Err() != nil {
			break
		}
		if err := s.runJob(cycleCtx, job); err != nil {
			failed++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":   len(jobs),
		"failed": failed,
	}), "maintenance cycle finished")
	if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("cycle exceeded %s", s.cycleTimeout)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", name, p)
		}
		elapsed := time.Since(start)
		s.metrics.ObserveDuration(name, elapsed)
		doneCtx := s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.logg.Error(doneCtx, "job failed", err)
			s.metrics.IncFailure(name)
			return
		}
		s.logg.Info(doneCtx, "job completed")
		s.metrics.IncSuccess(name)
	}()

	s.logg.Debug(jobCtx, "job start")
	return job.Run(jobCtx)
}
