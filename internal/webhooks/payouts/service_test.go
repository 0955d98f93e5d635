package payoutwebhook

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

type fakeReconciler struct {
	got []payouts.ItemNotification
	err error
}

func (f *fakeReconciler) ReconcileItem(_ context.Context, n payouts.ItemNotification) (*payouts.ReconcileItemResult, error) {
	f.got = append(f.got, n)
	if f.err != nil {
		return nil, f.err
	}
	return &payouts.ReconcileItemResult{BatchID: uuid.New(), ItemID: uuid.New(), Status: enums.PayoutItemFailed, Updated: true}, nil
}

func newTestService(t *testing.T, r *fakeReconciler) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Payouts: r,
		Logger:  logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func TestDecodeBuildsNotification(t *testing.T) {
	event, err := Decode([]byte(`{
		"event_id": "evt_1",
		"event_type": "PAYOUT.ITEM.RETURNED",
		"batch_id": "PB-1",
		"item": {"item_id": "IT-9", "sender_item_id": "abc", "receiver": "Seller@Example.com",
		         "amount": {"value": "12.34", "currency": "usd"}, "error": "account closed"}
	}`))
	require.NoError(t, err)
	assert.True(t, event.IsItemEvent())

	n, err := event.Notification()
	require.NoError(t, err)
	assert.Equal(t, "evt_1", n.EventID)
	assert.Equal(t, "PB-1", n.ExternalBatchID)
	assert.Equal(t, "IT-9", n.ExternalItemID)
	assert.Equal(t, "RETURNED", n.Status)
	assert.Equal(t, int64(1234), n.AmountCents)
	assert.Equal(t, "USD", n.Currency)
	assert.Equal(t, "account closed", n.Error)
}

func TestDecodeRejectsIncompleteBodies(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = Decode([]byte(`{"event_type":"payout.item.failed"}`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	event, err := Decode([]byte(`{"event_id":"e","event_type":"payout.item.updated","batch_id":"PB","item":{"amount":{"value":"x"}}}`))
	require.NoError(t, err)
	_, err = event.Notification()
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "missing status")

	event, err = Decode([]byte(`{"event_id":"e","event_type":"payout.item.failed","item":{}}`))
	require.NoError(t, err)
	_, err = event.Notification()
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "missing batch reference")
}

func TestHandleEventReconcilesItemEvents(t *testing.T) {
	r := &fakeReconciler{}
	svc := newTestService(t, r)
	event := &Event{
		EventID:       "evt_2",
		EventType:     EventItemFailed,
		SenderBatchID: uuid.NewString(),
		Item:          &EventItem{SenderItemID: uuid.NewString()},
	}
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	require.Len(t, r.got, 1)
	assert.Equal(t, "FAILED", r.got[0].Status)
}

func TestHandleEventIgnoresBatchEvents(t *testing.T) {
	r := &fakeReconciler{}
	svc := newTestService(t, r)
	require.NoError(t, svc.HandleEvent(context.Background(), &Event{EventID: "evt_3", EventType: "payout.batch.completed"}))
	assert.Empty(t, r.got)
}

func TestHandleEventSurfacesReconcileErrors(t *testing.T) {
	r := &fakeReconciler{err: pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")}
	svc := newTestService(t, r)
	err := svc.HandleEvent(context.Background(), &Event{
		EventID:   "evt_4",
		EventType: EventItemSucceeded,
		BatchID:   "PB-unknown",
		Item:      &EventItem{ItemID: "IT-1"},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return "pf:idempotency:" + scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestGuardClaimsOnceUntilReleased(t *testing.T) {
	store := &memoryStore{values: map[string]string{}}
	guard, err := NewGuard(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, guard.Release(ctx, "evt"))
	seen, err = guard.CheckAndMark(ctx, "evt")
	require.NoError(t, err)
	assert.False(t, seen)

	store.err = errors.New("redis down")
	_, err = guard.CheckAndMark(ctx, "other")
	assert.Error(t, err)
}
