package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/internal/earnings"
	"github.com/angelmondragon/packfinderz-payouts/internal/refunds"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
)

type fakeAccruer struct {
	calls []payloads.OrderPaidEvent
	err   error
}

func (f *fakeAccruer) Accrue(_ context.Context, event payloads.OrderPaidEvent) (*earnings.AccrualResult, error) {
	f.calls = append(f.calls, event)
	if f.err != nil {
		return nil, f.err
	}
	return &earnings.AccrualResult{OrderID: event.OrderID, Created: len(event.LineItems)}, nil
}

type fakeAllocator struct {
	calls []payloads.OrderRefundedEvent
	err   error
}

func (f *fakeAllocator) Allocate(_ context.Context, event payloads.OrderRefundedEvent) (*refunds.AllocationResult, error) {
	f.calls = append(f.calls, event)
	if f.err != nil {
		return nil, f.err
	}
	return &refunds.AllocationResult{OrderID: event.OrderID, RefundID: event.RefundID}, nil
}

type fakeIdempotency struct {
	seen    map[string]bool
	deleted []string
	err     error
}

func (f *fakeIdempotency) CheckAndMarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := consumer + ":" + eventID
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeIdempotency) Delete(_ context.Context, consumer, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	delete(f.seen, consumer+":"+eventID)
	return nil
}

func newTestConsumer(t *testing.T, acc *fakeAccruer, alloc *fakeAllocator, idem *fakeIdempotency) *Consumer {
	t.Helper()
	c, err := newConsumer(acc, alloc, idem, logger.New(logger.Options{ServiceName: "orders-consumer-test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("newConsumer: %v", err)
	}
	return c
}

func message(t *testing.T, eventType enums.OutboxEventType, eventID string, data any) *gcppubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &gcppubsub.Message{
		ID:   "msg-" + eventID,
		Data: envelope,
		Attributes: map[string]string{
			"event_type": string(eventType),
		},
	}
}

func TestHandleRoutesOrderPaid(t *testing.T) {
	acc, alloc, idem := &fakeAccruer{}, &fakeAllocator{}, &fakeIdempotency{}
	c := newTestConsumer(t, acc, alloc, idem)

	orderID := uuid.New()
	msg := message(t, enums.EventOrderPaid, uuid.NewString(), payloads.OrderPaidEvent{
		OrderID:  orderID,
		Currency: "USD",
		LineItems: []payloads.OrderLineItem{
			{SellerID: uuid.NewString(), ProductKey: "sku-1", UnitPrice: "10.00", Quantity: 1},
		},
	})

	if retry := c.Handle(context.Background(), msg); retry {
		t.Fatalf("expected ack")
	}
	if len(acc.calls) != 1 || acc.calls[0].OrderID != orderID {
		t.Fatalf("expected accrual for order, got %+v", acc.calls)
	}
	if len(alloc.calls) != 0 {
		t.Fatalf("allocator should not run")
	}

	// redelivery is absorbed by the idempotency marker
	if retry := c.Handle(context.Background(), msg); retry {
		t.Fatalf("expected ack on redelivery")
	}
	if len(acc.calls) != 1 {
		t.Fatalf("expected single accrual, got %d", len(acc.calls))
	}
}

func TestHandleRoutesOrderRefunded(t *testing.T) {
	acc, alloc, idem := &fakeAccruer{}, &fakeAllocator{}, &fakeIdempotency{}
	c := newTestConsumer(t, acc, alloc, idem)

	amount := "5.00"
	msg := message(t, enums.EventOrderRefunded, uuid.NewString(), payloads.OrderRefundedEvent{
		OrderID:  uuid.New(),
		RefundID: "re_1",
		Amount:   &amount,
	})
	if retry := c.Handle(context.Background(), msg); retry {
		t.Fatalf("expected ack")
	}
	if len(alloc.calls) != 1 || alloc.calls[0].RefundID != "re_1" {
		t.Fatalf("unexpected allocator calls %+v", alloc.calls)
	}
	if alloc.calls[0].Amount == nil || *alloc.calls[0].Amount != "5.00" {
		t.Fatalf("amount not carried")
	}
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	acc := &fakeAccruer{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "append ledger entry")}
	idem := &fakeIdempotency{}
	c := newTestConsumer(t, acc, &fakeAllocator{}, idem)

	eventID := uuid.NewString()
	msg := message(t, enums.EventOrderPaid, eventID, payloads.OrderPaidEvent{OrderID: uuid.New(), Currency: "USD"})
	if retry := c.Handle(context.Background(), msg); !retry {
		t.Fatalf("expected nack")
	}
	if len(idem.deleted) != 1 || idem.deleted[0] != eventID {
		t.Fatalf("expected idempotency marker cleared, got %v", idem.deleted)
	}

	acc.err = nil
	if retry := c.Handle(context.Background(), msg); retry {
		t.Fatalf("expected ack after recovery")
	}
	if len(acc.calls) != 2 {
		t.Fatalf("expected second attempt to reach accruer, got %d", len(acc.calls))
	}
}

func TestHandleAcksValidationFailures(t *testing.T) {
	alloc := &fakeAllocator{err: pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")}
	idem := &fakeIdempotency{}
	c := newTestConsumer(t, &fakeAccruer{}, alloc, idem)

	msg := message(t, enums.EventOrderRefunded, uuid.NewString(), payloads.OrderRefundedEvent{OrderID: uuid.New()})
	if retry := c.Handle(context.Background(), msg); retry {
		t.Fatalf("validation failures should not be redelivered")
	}
	if len(idem.deleted) != 0 {
		t.Fatalf("marker should be kept")
	}
}

func TestHandleDropsMalformedAndForeignEvents(t *testing.T) {
	acc, alloc, idem := &fakeAccruer{}, &fakeAllocator{}, &fakeIdempotency{}
	c := newTestConsumer(t, acc, alloc, idem)

	garbage := &gcppubsub.Message{ID: "bad", Data: []byte("{"), Attributes: map[string]string{"event_type": "order_paid"}}
	if retry := c.Handle(context.Background(), garbage); retry {
		t.Fatalf("malformed message should be acked")
	}

	foreign := message(t, enums.EventPayoutBatchSettled, uuid.NewString(), map[string]any{"batch_id": uuid.NewString()})
	if retry := c.Handle(context.Background(), foreign); retry {
		t.Fatalf("foreign event should be acked")
	}

	unknown := message(t, enums.EventOrderPaid, uuid.NewString(), map[string]any{})
	unknown.Attributes["event_type"] = "order_shipped"
	if retry := c.Handle(context.Background(), unknown); retry {
		t.Fatalf("unknown event type should be acked")
	}

	if len(acc.calls) != 0 || len(alloc.calls) != 0 {
		t.Fatalf("no handler should run")
	}
}

func TestHandleNacksWhenIdempotencyStoreFails(t *testing.T) {
	idem := &fakeIdempotency{err: errors.New("redis unavailable")}
	c := newTestConsumer(t, &fakeAccruer{}, &fakeAllocator{}, idem)

	msg := message(t, enums.EventOrderPaid, uuid.NewString(), payloads.OrderPaidEvent{OrderID: uuid.New()})
	if retry := c.Handle(context.Background(), msg); !retry {
		t.Fatalf("expected nack")
	}
}
