package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/internal/sellers"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pagination"
	"github.com/angelmondragon/packfinderz-payouts/pkg/payoutprovider"
)

const runLockPrefix = "RUNLOCK:"

var errRunLockHeld = errors.New("payout run lock held")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service creates payout batches and reconciles them against the provider.
type Service interface {
	CreateBatch(ctx context.Context, input CreateBatchInput) (*CreateBatchResult, error)
	SyncBatch(ctx context.Context, batchID uuid.UUID) (*SyncResult, error)
	ReconcileItem(ctx context.Context, n ItemNotification) (*ReconcileItemResult, error)
	EnsureDebits(ctx context.Context, batchID uuid.UUID) (int, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, params pagination.Params) (*BatchList, error)
	ListProcessing(ctx context.Context, limit int) ([]models.PayoutBatch, error)
}

// ServiceParams wires the payout service.
type ServiceParams struct {
	Tx         txRunner
	Repository Repository
	Sellers    sellers.Repository
	Ledger     ledger.Service
	LedgerRepo ledger.Repository
	Provider   payoutprovider.Provider
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.PayoutMetrics
	Mode       enums.PayoutMode
	Clock      func() time.Time
}

type service struct {
	tx         txRunner
	repo       Repository
	sellers    sellers.Repository
	ledger     ledger.Service
	ledgerRepo ledger.Repository
	provider   payoutprovider.Provider
	outbox     outbox.Emitter
	logg       *logger.Logger
	metrics    *metrics.PayoutMetrics
	mode       enums.PayoutMode
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("payout repository required")
	case params.Sellers == nil:
		return nil, fmt.Errorf("seller directory required")
	case params.Ledger == nil || params.LedgerRepo == nil:
		return nil, fmt.Errorf("ledger service and repository required")
	case params.Provider == nil:
		return nil, fmt.Errorf("payout provider required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	mode := params.Mode
	if mode == "" {
		mode = enums.PayoutModeSandbox
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid payout mode %q", mode)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:         params.Tx,
		repo:       params.Repository,
		sellers:    params.Sellers,
		ledger:     params.Ledger,
		ledgerRepo: params.LedgerRepo,
		provider:   params.Provider,
		outbox:     params.Outbox,
		logg:       params.Logger,
		metrics:    params.Metrics,
		mode:       mode,
		now:        clock,
	}, nil
}

// RunKey is the run lock value for a currency.
func RunKey(currency string) string {
	return runLockPrefix + currency
}

func (s *service) CreateBatch(ctx context.Context, input CreateBatchInput) (*CreateBatchResult, error) {
	currency, err := money.NormalizeCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	if input.MinCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min_cents must not be negative")
	}
	ctx = s.logg.WithCurrency(ctx, currency)

	items, total, err := s.eligibleItems(ctx, currency, input.MinCents)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		s.logg.Info(ctx, "no sellers eligible for payout")
		s.metrics.IncBatch(currency, string(OutcomeNothingToDo))
		return &CreateBatchResult{Outcome: OutcomeNothingToDo, Message: "no eligible sellers"}, nil
	}

	batch, err := s.lockRun(ctx, currency, input.Note)
	if errors.Is(err, errRunLockHeld) {
		s.logg.Info(ctx, "payout batch already in progress")
		s.metrics.IncBatch(currency, string(OutcomeAlreadyInProgress))
		return &CreateBatchResult{
			Outcome: OutcomeAlreadyInProgress,
			Message: fmt.Sprintf("batch already in progress for %s", currency),
		}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire payout run lock")
	}
	ctx = s.logg.WithBatchID(ctx, batch.ID.String())

	// balances read before the lock may predate a run that just finished;
	// only the view under the lock is trusted
	items, total, err = s.eligibleItems(ctx, currency, input.MinCents)
	if err == nil && len(items) == 0 {
		if _, err = s.repo.ReleaseUnsubmitted(ctx, batch.ID, "no eligible sellers"); err == nil {
			s.logg.Info(ctx, "no sellers eligible for payout under run lock")
			s.metrics.IncBatch(currency, string(OutcomeNothingToDo))
			return &CreateBatchResult{Outcome: OutcomeNothingToDo, Message: "no eligible sellers"}, nil
		}
	}
	if err == nil {
		for i := range items {
			items[i].BatchID = batch.ID
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := repo.CreateItems(ctx, items); err != nil {
				return err
			}
			return repo.SetTotal(ctx, batch.ID, total)
		})
	}
	if err != nil {
		s.logg.Error(ctx, "prepare payout batch", err)
		if markErr := s.repo.MarkFailed(ctx, batch.ID, err.Error()); markErr != nil {
			s.logg.Error(ctx, "release payout run lock", markErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prepare payout batch")
	}
	batch.Items = items
	batch.TotalCents = total

	return s.submit(ctx, batch)
}

// lockRun inserts an empty CREATED batch holding the currency's run key.
func (s *service) lockRun(ctx context.Context, currency, note string) (*models.PayoutBatch, error) {
	runKey := RunKey(currency)
	batch := &models.PayoutBatch{
		ID:       uuid.New(),
		Mode:     s.mode,
		Currency: currency,
		RunKey:   &runKey,
		Status:   enums.PayoutBatchCreated,
		Note:     strings.TrimSpace(note),
	}
	acquired, err := s.repo.AcquireRunLock(ctx, batch)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, errRunLockHeld
	}
	return batch, nil
}

func (s *service) eligibleItems(ctx context.Context, currency string, minCents int64) ([]models.PayoutItem, int64, error) {
	profiles, err := s.sellers.ListPayable(ctx, currency)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payable sellers")
	}

	var (
		items []models.PayoutItem
		total int64
	)
	for _, profile := range profiles {
		available, err := s.ledger.Available(ctx, profile.SellerID, currency)
		if err != nil {
			return nil, 0, err
		}
		if available <= 0 || available < minCents {
			continue
		}
		items = append(items, models.PayoutItem{
			ID:              uuid.New(),
			SellerID:        profile.SellerID,
			ReceiverAddress: normalizeReceiver(profile.PayoutAddress),
			AmountCents:     available,
			Currency:        currency,
			Status:          enums.PayoutItemPending,
		})
		total += available
	}
	return items, total, nil
}

// submit hands a locked batch to the provider and records the outcome.
func (s *service) submit(ctx context.Context, batch *models.PayoutBatch) (*CreateBatchResult, error) {
	req := payoutprovider.SubmitRequest{
		SenderBatchID: batch.ID.String(),
		Currency:      batch.Currency,
		Note:          batch.Note,
	}
	for _, item := range batch.Items {
		req.Items = append(req.Items, payoutprovider.Item{
			SenderItemID: item.ID.String(),
			Receiver:     item.ReceiverAddress,
			AmountCents:  item.AmountCents,
			Currency:     item.Currency,
			Note:         batch.Note,
		})
	}

	resp, submitErr := s.provider.SubmitBatch(ctx, req)
	if submitErr != nil {
		return s.reject(ctx, batch, submitErr)
	}

	var debits int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.repo.WithTx(tx).MarkSubmitted(ctx, batch.ID, resp.ExternalBatchID, s.now())
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("batch %s left CREATED before submission was recorded", batch.ID)
		}
		batch.Status = enums.PayoutBatchProcessing
		batch.ExternalBatchID = &resp.ExternalBatchID

		debits, err = s.writeDebits(ctx, tx, batch)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutBatchSubmitted,
			AggregateType: enums.AggregatePayoutBatch,
			AggregateID:   batch.ID,
			Data: payloads.PayoutBatchSubmittedEvent{
				BatchID:         batch.ID,
				ExternalBatchID: resp.ExternalBatchID,
				Mode:            string(batch.Mode),
				Currency:        batch.Currency,
				TotalCents:      batch.TotalCents,
				ItemCount:       len(batch.Items),
			},
		})
	})
	if err != nil {
		// the provider holds the batch but the lock stays with it; an
		// operator resolves it against external_batch_id in the logs
		s.logg.Error(s.logg.WithField(ctx, "external_batch_id", resp.ExternalBatchID), "record submitted payout batch", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record submitted payout batch")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"external_batch_id": resp.ExternalBatchID,
		"items":             len(batch.Items),
		"total_cents":       batch.TotalCents,
		"debits_created":    debits,
	}), "payout batch submitted")
	s.metrics.IncBatch(batch.Currency, string(OutcomeCreated))

	id := batch.ID
	return &CreateBatchResult{
		Outcome:    OutcomeCreated,
		BatchID:    &id,
		ItemCount:  len(batch.Items),
		TotalCents: batch.TotalCents,
	}, nil
}

func (s *service) reject(ctx context.Context, batch *models.PayoutBatch, submitErr error) (*CreateBatchResult, error) {
	message := submitErr.Error()
	var perr *payoutprovider.Error
	if errors.As(submitErr, &perr) && perr.Message != "" {
		message = perr.Message
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", submitErr.Error()), "payout provider rejected batch")

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).MarkFailed(ctx, batch.ID, message); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutBatchFailed,
			AggregateType: enums.AggregatePayoutBatch,
			AggregateID:   batch.ID,
			Data: payloads.PayoutBatchFailedEvent{
				BatchID:  batch.ID,
				Currency: batch.Currency,
				Error:    message,
			},
		})
	})
	if err != nil {
		s.logg.Error(ctx, "release failed payout batch", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout batch failed")
	}

	s.metrics.IncBatch(batch.Currency, string(OutcomeProviderRejected))
	id := batch.ID
	return &CreateBatchResult{
		Outcome: OutcomeProviderRejected,
		BatchID: &id,
		Message: message,
	}, nil
}

// writeDebits asserts one PAYOUT_DEBIT per item. Existing debits count as
// applied.
func (s *service) writeDebits(ctx context.Context, tx *gorm.DB, batch *models.PayoutBatch) (int, error) {
	batchID := batch.ID
	created := 0
	for _, item := range batch.Items {
		meta := map[string]any{"item_id": item.ID}
		if batch.ExternalBatchID != nil {
			meta["external_batch_id"] = *batch.ExternalBatchID
		}
		_, ok, err := s.ledger.Append(ctx, tx, ledger.AppendInput{
			SellerID:       item.SellerID,
			Type:           enums.LedgerEntryPayoutDebit,
			AmountCents:    -item.AmountCents,
			Currency:       item.Currency,
			PayoutID:       &batchID,
			IdempotencyKey: ledger.PayoutDebitKey(batch.ID, item.SellerID, item.Currency),
			Note:           "payout batch " + batch.ID.String(),
			Meta:           meta,
		})
		if err != nil {
			return created, err
		}
		s.metrics.IncLedgerEntry(string(enums.LedgerEntryPayoutDebit), ok)
		if ok {
			created++
		}
	}
	return created, nil
}

// EnsureDebits re-asserts the debits of a PROCESSING batch. Other statuses
// are left alone.
func (s *service) EnsureDebits(ctx context.Context, batchID uuid.UUID) (int, error) {
	var created int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := s.repo.WithTx(tx).FindByID(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != enums.PayoutBatchProcessing {
			return nil
		}
		created, err = s.writeDebits(ctx, tx, batch)
		return err
	})
	if isNotFound(err) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure payout debits")
	}
	if created > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"batch_id": batchID.String(),
			"created":  created,
		}), "healed missing payout debits")
	}
	return created, nil
}

func (s *service) GetBatch(ctx context.Context, batchID uuid.UUID) (*models.PayoutBatch, error) {
	batch, err := s.repo.FindByID(ctx, batchID)
	if isNotFound(err) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout batch")
	}
	return batch, nil
}

func (s *service) ListBatches(ctx context.Context, params pagination.Params) (*BatchList, error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout batches")
	}
	return list, nil
}

func (s *service) ListProcessing(ctx context.Context, limit int) ([]models.PayoutBatch, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.PayoutBatchProcessing, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list processing payout batches")
	}
	return rows, nil
}

func normalizeReceiver(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
