// Package orders consumes order lifecycle events and feeds them into the
// seller ledger.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/packfinderz-payouts/internal/earnings"
	"github.com/angelmondragon/packfinderz-payouts/internal/refunds"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/registry"
)

const consumerName = "payouts-orders"

// Accruer turns a paid order into earnings.
type Accruer interface {
	Accrue(ctx context.Context, event payloads.OrderPaidEvent) (*earnings.AccrualResult, error)
}

// Allocator turns a refund into seller debits.
type Allocator interface {
	Allocate(ctx context.Context, event payloads.OrderRefundedEvent) (*refunds.AllocationResult, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// ConsumerParams wires the order event consumer.
type ConsumerParams struct {
	Subscription *gcppubsub.Subscriber
	Accruer      Accruer
	Allocator    Allocator
	Idempotency  idempotencyChecker
	Logger       *logger.Logger
}

// Consumer applies order_paid and order_refunded events. Redis dedupe is a
// fast path only; ledger idempotency keys make redelivery harmless.
type Consumer struct {
	subscription receiver
	accruer      Accruer
	allocator    Allocator
	manager      idempotencyChecker
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, errors.New("orders subscription is required")
	}
	c, err := newConsumer(params.Accruer, params.Allocator, params.Idempotency, params.Logger)
	if err != nil {
		return nil, err
	}
	c.subscription = params.Subscription
	return c, nil
}

func newConsumer(accruer Accruer, allocator Allocator, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if accruer == nil {
		return nil, errors.New("earnings accruer is required")
	}
	if allocator == nil {
		return nil, errors.New("refund allocator is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		accruer:   accruer,
		allocator: allocator,
		manager:   manager,
		decoders:  newDecoders(),
		logg:      logg,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	reg.Register(enums.EventOrderPaid, 1, registry.JSON[payloads.OrderPaidEvent]())
	reg.Register(enums.EventOrderRefunded, 1, registry.JSON[payloads.OrderRefundedEvent]())
	return reg
}

// Run receives messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("orders subscription is required")
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.Handle(innerCtx, msg) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle processes one message and reports whether it should be redelivered.
func (c *Consumer) Handle(ctx context.Context, msg *gcppubsub.Message) (retry bool) {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	eventType, envelope, err := c.parse(msg)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping malformed order event")
		return false
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": string(eventType),
	})

	if eventType != enums.EventOrderPaid && eventType != enums.EventOrderRefunded {
		c.logg.Debug(logCtx, "event not handled by payouts consumer")
		return false
	}

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return true
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return false
	}

	err = c.dispatch(logCtx, eventType, envelope)
	if err == nil {
		return false
	}
	if !pkgerrors.IsRetryable(err) {
		// redelivery cannot fix it; keep the marker
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "order event rejected")
		return false
	}
	c.logg.Error(logCtx, "order event handler failed", err)
	if delErr := c.manager.Delete(logCtx, consumerName, envelope.EventID); delErr != nil {
		c.logg.Error(logCtx, "failed to clear idempotency marker", delErr)
	}
	return true
}

func (c *Consumer) parse(msg *gcppubsub.Message) (enums.OutboxEventType, *outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return "", nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	if err != nil {
		return "", nil, fmt.Errorf("event_type: %w", err)
	}
	envelope.EventID = strings.TrimSpace(envelope.EventID)
	if envelope.EventID == "" {
		envelope.EventID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	if envelope.EventID == "" {
		return "", nil, errors.New("event_id missing")
	}
	if envelope.Version == 0 {
		envelope.Version = 1
	}
	return eventType, &envelope, nil
}

func (c *Consumer) dispatch(ctx context.Context, eventType enums.OutboxEventType, envelope *outbox.PayloadEnvelope) error {
	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if errors.Is(err, registry.ErrNoDecoder) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported order event version")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode order event")
	}

	switch event := decoded.(type) {
	case payloads.OrderPaidEvent:
		ctx = c.logg.WithOrderID(ctx, event.OrderID.String())
		result, err := c.accruer.Accrue(ctx, event)
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"created":  result.Created,
			"existing": result.Existing,
			"skipped":  len(result.Skipped),
		}), "order earnings accrued")
	case payloads.OrderRefundedEvent:
		ctx = c.logg.WithRefund(ctx, event.OrderID.String(), event.RefundID)
		result, err := c.allocator.Allocate(ctx, event)
		if err != nil {
			return err
		}
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{
			"target_cents":    result.TargetCents,
			"allocated_cents": result.AllocatedCents,
			"created":         result.Created,
		}), "refund debits allocated")
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unexpected payload %T", decoded))
	}
	return nil
}
