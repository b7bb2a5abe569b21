package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront/pkg/logger"
)

const defaultInterval = 15 * time.Minute

type jobRecorder interface {
	JobFinished(job string, elapsed time.Duration, rows int, err error)
	CycleSkipped()
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  jobRecorder
	Interval time.Duration
}

// Service runs every registered job once per interval while holding the
// cluster-wide lock. A failing job does not stop the ones after it.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  jobRecorder
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	if params.Registry == nil {
		params.Registry = NewRegistry()
	}
	if params.Interval <= 0 {
		params.Interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.RunOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cycle. It reports whether the lock was held.
func (s *Service) RunOnce(ctx context.Context) bool {
	unlock, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		s.logg.Error(ctx, "cron.lock_failed", err)
		return false
	}
	if !ok {
		s.logg.Info(ctx, "cron.lock_held_elsewhere")
		if s.metrics != nil {
			s.metrics.CycleSkipped()
		}
		return false
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron.unlock_failed", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	return true
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	start := time.Now()
	rows, err := job.Run(ctx)
	elapsed := time.Since(start)

	ctx = s.logg.WithFields(ctx, map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"rows":        rows,
	})
	if s.metrics != nil {
		s.metrics.JobFinished(name, elapsed, rows, err)
	}
	if err != nil {
		s.logg.Error(ctx, "cron.job_failed", err)
		return
	}
	s.logg.Info(ctx, "cron.job_completed")
}
