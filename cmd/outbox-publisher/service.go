package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxErrorBackoff       = 10 * time.Second
	pollJitter            = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

// backlogReader is implemented by stores that can summarise parked rows.
type backlogReader interface {
	Backlog(context.Context) ([]outbox.DLQBacklog, error)
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// ServiceParams wires the outbox publisher. Metrics and Now are optional.
type ServiceParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Broker     broker
	Events     eventStore
	DeadLetter deadLetterStore
	Registry   eventResolver
	Metrics    *metrics.OutboxMetrics
	Now        func() time.Time
}

// Service drains unpublished outbox rows onto their Pub/Sub topics. Every
// row settles in the same transaction it was claimed in: published, deferred
// for another attempt, or parked in the dead-letter table.
type Service struct {
	logg     *logger.Logger
	db       txRunner
	broker   broker
	events   eventStore
	dlq      deadLetterStore
	registry eventResolver
	metrics  *metrics.OutboxMetrics
	now      func() time.Time

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Broker == nil:
		return nil, errors.New("pubsub broker is required")
	case params.Events == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetter == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	svc := &Service{
		logg:           params.Logger,
		db:             params.DB,
		broker:         params.Broker,
		events:         params.Events,
		dlq:            params.DeadLetter,
		registry:       params.Registry,
		metrics:        params.Metrics,
		now:            params.Now,
		batchSize:      params.Outbox.BatchSize,
		maxAttempts:    params.Outbox.MaxAttempts,
		pollInterval:   time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
		publishTimeout: defaultPublishTimeout,
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.pollInterval <= 0 {
		svc.pollInterval = defaultPollInterval
	}
	return svc, nil
}

// drainSummary counts how the rows of one poll settled.
type drainSummary struct {
	published    int
	deferred     int
	deadLettered int
}

func (d drainSummary) settled() int {
	return d.published + d.deferred + d.deadLettered
}

func (d *drainSummary) add(o outcome) {
	switch o {
	case outcomePublished:
		d.published++
	case outcomeDeferred:
		d.deferred++
	case outcomeDeadLettered:
		d.deadLettered++
	}
}

// Run polls until ctx is canceled. A poll that settled rows is followed
// immediately by another; an empty poll waits one jittered interval and a
// failed poll backs off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checkDependencies(ctx); err != nil {
		return err
	}
	s.reportBacklog(ctx)

	idle := s.idleBackoff()
	failing := s.failureBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		summary, err := s.drain(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.metrics.IncDrainFailure()
			s.logg.Error(ctx, "outbox drain failed", err)
			wait, _ = failing.Next()
		case summary.settled() > 0:
			failing = s.failureBackoff()
			continue
		default:
			failing = s.failureBackoff()
			wait, _ = idle.Next()
		}
		if err := pause(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) idleBackoff() retry.Backoff {
	return retry.WithJitter(pollJitter, retry.NewConstant(s.pollInterval))
}

func (s *Service) failureBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithCappedDuration(maxErrorBackoff, b)
	return retry.WithJitter(pollJitter, b)
}

func (s *Service) checkDependencies(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.broker.Ping},
	}
	for _, check := range checks {
		if err := check.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", check.name), "outbox dependency unavailable", err)
			return fmt.Errorf("%s ping failed: %w", check.name, err)
		}
	}
	return nil
}

// reportBacklog logs what is already parked in the dead-letter table. It
// never blocks startup.
func (s *Service) reportBacklog(ctx context.Context) int64 {
	reader, ok := s.dlq.(backlogReader)
	if !ok {
		return 0
	}
	rows, err := reader.Backlog(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox dlq backlog unavailable")
		return 0
	}
	var total int64
	for _, row := range rows {
		total += row.Count
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"event_type":   string(row.EventType),
			"error_reason": string(row.ErrorReason),
			"count":        row.Count,
			"replayable":   row.ErrorReason.Replayable(),
		}), "outbox dlq backlog")
	}
	return total
}

// drain claims one batch of rows and settles each of them. Only storage
// failures abort the batch; publish failures are recorded per row.
func (s *Service) drain(ctx context.Context) (drainSummary, error) {
	var summary drainSummary
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := s.events.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		for _, event := range claimed {
			result, err := s.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			s.metrics.ObserveEvent(string(event.EventType), result.String())
			summary.add(result)
		}
		return nil
	})
	if err != nil {
		return drainSummary{}, err
	}
	if summary.settled() > 0 {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"published":     summary.published,
			"deferred":      summary.deferred,
			"dead_lettered": summary.deadLettered,
		}), "outbox batch settled")
	}
	return summary, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
