package cron

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

// PayoutBatchJobParams configures the scheduled payout run.
type PayoutBatchJobParams struct {
	Logger     *logger.Logger
	Payouts    payoutBatchCreator
	Currencies []string
	MinCents   int64
	Note       string
}

type payoutBatchCreator interface {
	CreateBatch(ctx context.Context, input payouts.CreateBatchInput) (*payouts.CreateBatchResult, error)
}

// NewPayoutBatchJob pays out every configured currency once per cycle.
func NewPayoutBatchJob(params PayoutBatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	if params.MinCents < 0 {
		return nil, fmt.Errorf("min payout cents must not be negative")
	}
	currencies := make([]string, 0, len(params.Currencies))
	seen := map[string]bool{}
	for _, cur := range params.Currencies {
		cur = strings.ToUpper(strings.TrimSpace(cur))
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true
		currencies = append(currencies, cur)
	}
	if len(currencies) == 0 {
		return nil, fmt.Errorf("at least one payout currency required")
	}
	return &payoutBatchJob{
		logg:       params.Logger,
		payouts:    params.Payouts,
		currencies: currencies,
		minCents:   params.MinCents,
		note:       params.Note,
	}, nil
}

type payoutBatchJob struct {
	logg       *logger.Logger
	payouts    payoutBatchCreator
	currencies []string
	minCents   int64
	note       string
}

func (j *payoutBatchJob) Name() string { return "payout-batch" }

// Run attempts every currency even when an earlier one fails.
func (j *payoutBatchJob) Run(ctx context.Context) error {
	var errs error
	for _, cur := range j.currencies {
		curCtx := j.logg.WithCurrency(ctx, cur)
		res, err := j.payouts.CreateBatch(curCtx, payouts.CreateBatchInput{
			Currency: cur,
			MinCents: j.minCents,
			Note:     j.note,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payout batch %s: %w", cur, err))
			continue
		}
		fields := map[string]any{"outcome": string(res.Outcome)}
		if res.BatchID != nil {
			fields["batch_id"] = res.BatchID.String()
			fields["item_count"] = res.ItemCount
			fields["total_cents"] = res.TotalCents
		}
		curCtx = j.logg.WithFields(curCtx, fields)
		if res.Outcome == payouts.OutcomeProviderRejected {
			j.logg.Warn(j.logg.WithField(curCtx, "reason", res.Message), "payout batch rejected by provider")
			continue
		}
		j.logg.Info(curCtx, "payout batch run finished")
	}
	return errs
}
