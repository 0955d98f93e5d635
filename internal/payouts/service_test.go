package payouts

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/internal/sellers"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pagination"
	"github.com/angelmondragon/packfinderz-payouts/pkg/payoutprovider"
)

var testNow = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	submitted []payoutprovider.SubmitRequest
	submitFn  func(req payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error)
	status    *payoutprovider.BatchStatus
}

func (f *fakeProvider) SubmitBatch(_ context.Context, req payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &payoutprovider.SubmitResponse{ExternalBatchID: "EXT-" + req.SenderBatchID, Status: "PENDING"}, nil
}

func (f *fakeProvider) GetBatch(_ context.Context, externalBatchID string) (*payoutprovider.BatchStatus, error) {
	if f.status == nil {
		return nil, errors.New("no status configured")
	}
	out := *f.status
	out.ExternalBatchID = externalBatchID
	return &out, nil
}

type harness struct {
	conn       *gorm.DB
	ledger     ledger.Service
	ledgerRepo ledger.Repository
	outboxRepo *outbox.Repository
	provider   *fakeProvider
	svc        Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithSellers(t, nil)
}

// newHarnessWithSellers swaps the seller directory when dir is set.
func newHarnessWithSellers(t *testing.T, dir func(sellers.Repository) sellers.Repository) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "payouts-test", Output: io.Discard})
	clock := func() time.Time { return testNow }

	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledgerRepo, clock)
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(conn)
	provider := &fakeProvider{}
	sellerRepo := sellers.NewRepository(conn)
	if dir != nil {
		sellerRepo = dir(sellerRepo)
	}

	svc, err := NewService(ServiceParams{
		Tx:         db.NewFromConn(conn),
		Repository: NewRepository(conn),
		Sellers:    sellerRepo,
		Ledger:     ledgerSvc,
		LedgerRepo: ledgerRepo,
		Provider:   provider,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Logger:     logg,
		Mode:       enums.PayoutModeSandbox,
		Clock:      clock,
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		ledger:     ledgerSvc,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		provider:   provider,
		svc:        svc,
	}
}

// seedSeller registers a payable seller with a matured balance.
func (h *harness) seedSeller(t *testing.T, address string, balance int64) uuid.UUID {
	t.Helper()
	seller := uuid.New()
	require.NoError(t, h.conn.Create(&models.SellerPayoutProfile{
		SellerID:       seller,
		PayoutsEnabled: true,
		PayoutAddress:  address,
	}).Error)
	if balance > 0 {
		matured := testNow.Add(-48 * time.Hour)
		orderID := uuid.New()
		_, _, err := h.ledger.Append(context.Background(), nil, ledger.AppendInput{
			SellerID:       seller,
			Type:           enums.LedgerEntryEarning,
			AmountCents:    balance,
			Currency:       "USD",
			AvailableAt:    &matured,
			OrderID:        &orderID,
			IdempotencyKey: ledger.EarningKey(orderID, "sku-1", seller),
		})
		require.NoError(t, err)
	}
	return seller
}

func (h *harness) available(t *testing.T, seller uuid.UUID) int64 {
	t.Helper()
	cents, err := h.ledger.Available(context.Background(), seller, "USD")
	require.NoError(t, err)
	return cents
}

func (h *harness) events(t *testing.T, aggregateID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := h.outboxRepo.ListByAggregate(context.Background(), aggregateID)
	require.NoError(t, err)
	var types []enums.OutboxEventType
	for _, row := range rows {
		types = append(types, row.EventType)
	}
	return types
}

func (h *harness) createBatch(t *testing.T) *models.PayoutBatch {
	t.Helper()
	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "usd"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	batch, err := h.svc.GetBatch(context.Background(), *res.BatchID)
	require.NoError(t, err)
	return batch
}

func TestCreateBatchDebitsEligibleSellers(t *testing.T) {
	h := newHarness(t)
	a := h.seedSeller(t, "  Alice@Example.com ", 5000)
	b := h.seedSeller(t, "bob@example.com", 50)
	h.seedSeller(t, "carol@example.com", 0)

	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "usd", MinCents: 100, Note: "weekly"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, res.ItemCount)
	assert.Equal(t, int64(5000), res.TotalCents)

	batch, err := h.svc.GetBatch(context.Background(), *res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutBatchProcessing, batch.Status)
	assert.Nil(t, batch.RunKey)
	require.NotNil(t, batch.ExternalBatchID)
	assert.Equal(t, "EXT-"+batch.ID.String(), *batch.ExternalBatchID)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, "alice@example.com", batch.Items[0].ReceiverAddress)
	assert.Equal(t, enums.PayoutItemPending, batch.Items[0].Status)

	require.Len(t, h.provider.submitted, 1)
	assert.Equal(t, batch.Items[0].ID.String(), h.provider.submitted[0].Items[0].SenderItemID)

	assert.Equal(t, int64(0), h.available(t, a))
	assert.Equal(t, int64(50), h.available(t, b))
	assert.Equal(t, []enums.OutboxEventType{enums.EventPayoutBatchSubmitted}, h.events(t, batch.ID))
}

func TestCreateBatchNothingToDo(t *testing.T) {
	h := newHarness(t)
	h.seedSeller(t, "alice@example.com", 0)

	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToDo, res.Outcome)
	assert.Nil(t, res.BatchID)
	assert.Empty(t, h.provider.submitted)
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "dollars"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD", MinCents: -1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateBatchRunLockIsExclusive(t *testing.T) {
	h := newHarness(t)
	h.seedSeller(t, "alice@example.com", 2500)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.provider.submitFn = func(req payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error) {
		close(entered)
		<-release
		return &payoutprovider.SubmitResponse{ExternalBatchID: "EXT-1"}, nil
	}

	type outcome struct {
		res *CreateBatchResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
		first <- outcome{res, err}
	}()

	<-entered
	second, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyInProgress, second.Outcome)
	close(release)

	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, OutcomeCreated, got.res.Outcome)

	var count int64
	require.NoError(t, h.conn.Model(&models.PayoutBatch{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// lock released and balance spent, so a third run has nothing to pay
	third, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToDo, third.Outcome)
}

func TestCreateBatchProviderRejectionWritesNoDebits(t *testing.T) {
	h := newHarness(t)
	seller := h.seedSeller(t, "alice@example.com", 4000)
	h.provider.submitFn = func(payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error) {
		return nil, &payoutprovider.Error{StatusCode: 422, Code: "INSUFFICIENT_FUNDS", Message: "sender balance too low"}
	}

	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProviderRejected, res.Outcome)
	assert.Equal(t, "sender balance too low", res.Message)

	batch, err := h.svc.GetBatch(context.Background(), *res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutBatchFailed, batch.Status)
	assert.Nil(t, batch.RunKey)
	require.NotNil(t, batch.Error)
	assert.Equal(t, "sender balance too low", *batch.Error)
	assert.Equal(t, int64(4000), h.available(t, seller))
	assert.Equal(t, []enums.OutboxEventType{enums.EventPayoutBatchFailed}, h.events(t, batch.ID))

	// the released lock lets the next run go through
	h.provider.submitFn = nil
	retry, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, retry.Outcome)
	assert.Equal(t, int64(0), h.available(t, seller))
}

func TestSyncBatchCreditsBackFailedItemsOnce(t *testing.T) {
	h := newHarness(t)
	a := h.seedSeller(t, "alice@example.com", 3000)
	b := h.seedSeller(t, "bob@example.com", 1200)
	batch := h.createBatch(t)

	var itemA, itemB models.PayoutItem
	for _, item := range batch.Items {
		if item.SellerID == a {
			itemA = item
		} else {
			itemB = item
		}
	}
	h.provider.status = &payoutprovider.BatchStatus{
		Status: "SUCCESS",
		Items: []payoutprovider.ItemStatus{
			{ExternalItemID: "X-A", SenderItemID: itemA.ID.String(), Status: "SUCCESS", Receiver: "alice@example.com", AmountCents: 3000},
			{ExternalItemID: "X-B", Status: "RETURNED", Receiver: "BOB@example.com", AmountCents: 1200, Error: "RECEIVER_UNREGISTERED"},
		},
	}

	res, err := h.svc.SyncBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutBatchCompleted, res.Status)
	assert.Equal(t, 2, res.ItemsUpdated)
	assert.Equal(t, 1, res.CreditedBackCount)

	assert.Equal(t, int64(0), h.available(t, a))
	assert.Equal(t, int64(1200), h.available(t, b))

	again, err := h.svc.SyncBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ItemsUpdated)
	assert.Equal(t, 0, again.CreditedBackCount)
	assert.Equal(t, int64(1200), h.available(t, b))

	stored, err := h.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	for _, item := range stored.Items {
		switch item.ID {
		case itemA.ID:
			assert.Equal(t, enums.PayoutItemSent, item.Status)
		case itemB.ID:
			assert.Equal(t, enums.PayoutItemFailed, item.Status)
			require.NotNil(t, item.Error)
			assert.Equal(t, "RECEIVER_UNREGISTERED", *item.Error)
			require.NotNil(t, item.ExternalItemID)
			assert.Equal(t, "X-B", *item.ExternalItemID)
		}
	}
	assert.Equal(t, []enums.OutboxEventType{enums.EventPayoutItemCreditedBack}, h.events(t, itemB.ID))
	assert.Contains(t, h.events(t, batch.ID), enums.EventPayoutBatchSettled)
}

func TestReconcileItemDuplicateDeliveryCreditsOnce(t *testing.T) {
	h := newHarness(t)
	seller := h.seedSeller(t, "alice@example.com", 900)
	batch := h.createBatch(t)

	n := ItemNotification{
		EventID:         "evt-1",
		ExternalBatchID: *batch.ExternalBatchID,
		ExternalItemID:  "X-1",
		SenderItemID:    batch.Items[0].ID.String(),
		Status:          "FAILED",
	}
	first, err := h.svc.ReconcileItem(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, first.Updated)
	assert.True(t, first.CreditedBack)
	assert.Equal(t, enums.PayoutItemFailed, first.Status)

	second, err := h.svc.ReconcileItem(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.False(t, second.CreditedBack)

	// the same failure reported without the provider item id
	third, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		SenderBatchID: batch.ID.String(),
		Receiver:      "alice@example.com",
		AmountCents:   900,
		Status:        "RETURNED",
	})
	require.NoError(t, err)
	assert.False(t, third.CreditedBack)

	rows, err := h.ledgerRepo.ListByKeyPrefix(context.Background(), enums.LedgerEntryAdjustment, ledger.CreditBackKeyPrefix(batch.ID, seller))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(900), rows[0].AmountCents)
	assert.Equal(t, int64(900), h.available(t, seller))
}

func TestReconcileItemStatusNeverRegresses(t *testing.T) {
	h := newHarness(t)
	h.seedSeller(t, "alice@example.com", 700)
	batch := h.createBatch(t)
	item := batch.Items[0]

	sent, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    item.ID.String(),
		Status:          "SUCCEEDED",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutItemSent, sent.Status)

	pending, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    item.ID.String(),
		Status:          "ONHOLD",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutItemSent, pending.Status)
	assert.False(t, pending.Updated)

	returned, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    item.ID.String(),
		Status:          "REVERSED",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutItemFailed, returned.Status)
	assert.True(t, returned.CreditedBack)

	back, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    item.ID.String(),
		Status:          "SUCCESS",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutItemFailed, back.Status)
}

func TestReconcileItemUnknownTargets(t *testing.T) {
	h := newHarness(t)
	h.seedSeller(t, "alice@example.com", 700)
	batch := h.createBatch(t)

	_, err := h.svc.ReconcileItem(context.Background(), ItemNotification{ExternalBatchID: "nope", Status: "FAILED"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    uuid.NewString(),
		Status:          "FAILED",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcileItemIgnoresRejectedBatch(t *testing.T) {
	h := newHarness(t)
	seller := h.seedSeller(t, "alice@example.com", 5000)
	h.provider.submitFn = func(payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error) {
		return nil, &payoutprovider.Error{StatusCode: 504, Message: "gateway timeout"}
	}
	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, OutcomeProviderRejected, res.Outcome)

	batch, err := h.svc.GetBatch(context.Background(), *res.BatchID)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)

	out, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		SenderBatchID: batch.ID.String(),
		SenderItemID:  batch.Items[0].ID.String(),
		Status:        "FAILED",
	})
	require.NoError(t, err)
	assert.False(t, out.Updated)
	assert.False(t, out.CreditedBack)
	assert.Equal(t, enums.PayoutItemPending, out.Status)

	rows, err := h.ledgerRepo.ListByKeyPrefix(context.Background(), enums.LedgerEntryAdjustment, ledger.CreditBackKeyPrefix(batch.ID, seller))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int64(5000), h.available(t, seller))
}

func TestReconcileItemSkipsCreditBackWithoutDebit(t *testing.T) {
	h := newHarness(t)
	seller := h.seedSeller(t, "alice@example.com", 800)
	batch := h.createBatch(t)

	require.NoError(t, h.conn.
		Where("type = ? AND idempotency_key = ?", enums.LedgerEntryPayoutDebit, ledger.PayoutDebitKey(batch.ID, seller, "USD")).
		Delete(&models.LedgerEntry{}).Error)
	// a settled batch is not healed, so its missing debit stays missing
	require.NoError(t, h.conn.Model(&models.PayoutBatch{}).
		Where("id = ?", batch.ID).
		Update("status", enums.PayoutBatchCompleted).Error)

	out, err := h.svc.ReconcileItem(context.Background(), ItemNotification{
		ExternalBatchID: *batch.ExternalBatchID,
		SenderItemID:    batch.Items[0].ID.String(),
		Status:          "RETURNED",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutItemFailed, out.Status)
	assert.False(t, out.CreditedBack)
	assert.Equal(t, int64(800), h.available(t, seller))
}

func TestSyncBatchDeniedCreditsBackUnreportedItems(t *testing.T) {
	h := newHarness(t)
	a := h.seedSeller(t, "alice@example.com", 5000)
	b := h.seedSeller(t, "bob@example.com", 2500)
	batch := h.createBatch(t)
	require.Equal(t, int64(0), h.available(t, a))

	var itemB models.PayoutItem
	for _, item := range batch.Items {
		if item.SellerID == b {
			itemB = item
		}
	}
	// bob's transfer went out before the batch was denied
	h.provider.status = &payoutprovider.BatchStatus{
		Status: "DENIED",
		Items: []payoutprovider.ItemStatus{
			{ExternalItemID: "X-B", SenderItemID: itemB.ID.String(), Status: "SUCCESS"},
		},
	}

	res, err := h.svc.SyncBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutBatchFailed, res.Status)
	assert.Equal(t, 1, res.CreditedBackCount)
	assert.Equal(t, int64(5000), h.available(t, a))
	assert.Equal(t, int64(0), h.available(t, b))

	stored, err := h.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	for _, item := range stored.Items {
		if item.SellerID == a {
			assert.Equal(t, enums.PayoutItemFailed, item.Status)
			require.NotNil(t, item.Error)
			assert.Equal(t, "payout batch DENIED", *item.Error)
		} else {
			assert.Equal(t, enums.PayoutItemSent, item.Status)
		}
	}

	processing, err := h.svc.ListProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, processing)

	// the batch is settled so a repeat poll changes nothing
	again, err := h.svc.SyncBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.CreditedBackCount)
	assert.Equal(t, int64(5000), h.available(t, a))
}

// drainingSellers reports payable sellers once and none afterwards, the view
// a run sees when another run paid everyone while it waited on the lock.
type drainingSellers struct {
	sellers.Repository
	mu    sync.Mutex
	calls int
}

func (d *drainingSellers) ListPayable(ctx context.Context, currency string) ([]models.SellerPayoutProfile, error) {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()
	if !first {
		return nil, nil
	}
	return d.Repository.ListPayable(ctx, currency)
}

func TestCreateBatchKeepsReleasedLockBatch(t *testing.T) {
	h := newHarnessWithSellers(t, func(repo sellers.Repository) sellers.Repository {
		return &drainingSellers{Repository: repo}
	})
	h.seedSeller(t, "alice@example.com", 600)

	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNothingToDo, res.Outcome)
	assert.Empty(t, h.provider.submitted)

	var rows []models.PayoutBatch
	require.NoError(t, h.conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PayoutBatchFailed, rows[0].Status)
	assert.Nil(t, rows[0].RunKey)
	require.NotNil(t, rows[0].Error)
	assert.Equal(t, "no eligible sellers", *rows[0].Error)

	released, err := NewRepository(h.conn).ReleaseUnsubmitted(context.Background(), rows[0].ID, "again")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestSyncBatchRequiresSubmission(t *testing.T) {
	h := newHarness(t)
	h.seedSeller(t, "alice@example.com", 700)
	h.provider.submitFn = func(payoutprovider.SubmitRequest) (*payoutprovider.SubmitResponse, error) {
		return nil, errors.New("connection refused")
	}
	res, err := h.svc.CreateBatch(context.Background(), CreateBatchInput{Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, OutcomeProviderRejected, res.Outcome)

	_, err = h.svc.SyncBatch(context.Background(), *res.BatchID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.SyncBatch(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestEnsureDebitsHealsMissingDebit(t *testing.T) {
	h := newHarness(t)
	seller := h.seedSeller(t, "alice@example.com", 1500)
	batch := h.createBatch(t)

	require.NoError(t, h.conn.
		Where("type = ? AND idempotency_key = ?", enums.LedgerEntryPayoutDebit, ledger.PayoutDebitKey(batch.ID, seller, "USD")).
		Delete(&models.LedgerEntry{}).Error)
	assert.Equal(t, int64(1500), h.available(t, seller))

	created, err := h.svc.EnsureDebits(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(0), h.available(t, seller))

	created, err = h.svc.EnsureDebits(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestListBatchesPaginates(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.seedSeller(t, "seller@example.com", 100)
		h.createBatch(t)
	}

	page, err := h.svc.ListBatches(context.Background(), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Batches, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := h.svc.ListBatches(context.Background(), pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Batches, 1)
	assert.Empty(t, next.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, b := range append(page.Batches, next.Batches...) {
		assert.False(t, seen[b.ID])
		seen[b.ID] = true
	}

	_, err = h.svc.ListBatches(context.Background(), pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	processing, err := h.svc.ListProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, processing, 3)
}
