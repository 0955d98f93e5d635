package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

const defaultPayoutSyncLimit = 100

type PayoutSyncJobParams struct {
	Logger  *logger.Logger
	Payouts payoutSyncer
	Limit   int
}

type payoutSyncer interface {
	ListProcessing(ctx context.Context, limit int) ([]models.PayoutBatch, error)
	SyncBatch(ctx context.Context, batchID uuid.UUID) (*payouts.SyncResult, error)
}

// NewPayoutSyncJob polls the provider for batches that are still in flight.
func NewPayoutSyncJob(params PayoutSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPayoutSyncLimit
	}
	return &payoutSyncJob{logg: params.Logger, payouts: params.Payouts, limit: limit}, nil
}

type payoutSyncJob struct {
	logg    *logger.Logger
	payouts payoutSyncer
	limit   int
}

func (j *payoutSyncJob) Name() string { return "payout-sync" }

func (j *payoutSyncJob) Run(ctx context.Context) error {
	batches, err := j.payouts.ListProcessing(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list processing batches: %w", err)
	}
	var (
		errs     error
		settled  int
		credited int
	)
	for _, batch := range batches {
		res, err := j.payouts.SyncBatch(ctx, batch.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sync batch %s: %w", batch.ID, err))
			continue
		}
		credited += res.CreditedBackCount
		if res.Status.IsTerminal() {
			settled++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"batches":        len(batches),
		"settled":        settled,
		"credited_backs": credited,
		"failed":         len(multierr.Errors(errs)),
	}), "payout sync complete")
	return errs
}
