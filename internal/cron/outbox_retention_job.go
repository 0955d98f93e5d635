package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

const (
	defaultOutboxRetention   = 30 * 24 * time.Hour
	defaultOutboxMinAttempts = 10
)

// OutboxRetentionJobParams configures pruning of delivered payout events.
// MinAttempts should match the publisher's max attempts so parked rows age
// out with the delivered ones.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   time.Duration
	MinAttempts int
	Clock       func() time.Time
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		minAttempts: params.MinAttempts,
		now:         params.Clock,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultOutboxMinAttempts
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPruner
	retention   time.Duration
	minAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var pruned int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		pruned = n
		return err
	})
	if err != nil {
		return fmt.Errorf("prune outbox events: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff.Format(time.RFC3339),
		"min_attempts": j.minAttempts,
		"rows_pruned":  pruned,
	}), "outbox events pruned")
	return nil
}
