package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
)

const defaultTick = time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams configure the cron service. Tick is how often the service
// wakes up to look for due jobs.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
	Clock    func() time.Time
}

// Service runs registered jobs on their cadence while holding the
// cluster-wide cron lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
	lastRun  map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     params.Tick,
		now:      params.Clock,
		lastRun:  map[string]time.Time{},
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.tick <= 0 {
		svc.tick = defaultTick
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Run blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.cycle(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "cron cycle failed", err)
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	jobs := s.registry.due(s.now(), s.lastRun)
	if len(jobs) == 0 {
		return nil
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range jobs {
		s.lastRun[job.Name()] = s.now()
		s.runJob(ctx, job)
	}
	return nil
}

// runJob never stops the cycle; a failing job is logged and counted.
func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	start := time.Now()
	err := job.Run(jobCtx)
	elapsed := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), elapsed)
	}
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(job.Name())
		}
		return
	}
	s.logg.Info(jobCtx, "job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(job.Name())
	}
}
