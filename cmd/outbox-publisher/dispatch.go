package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/registry"
)

// errUnroutable marks events whose topic has no publisher.
var errUnroutable = errors.New("unroutable")

type outcome int

const (
	outcomePublished outcome = iota
	outcomeDeferred
	outcomeDeadLettered
)

func (o outcome) String() string {
	switch o {
	case outcomePublished:
		return "published"
	case outcomeDeferred:
		return "deferred"
	case outcomeDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// dispatch publishes one claimed row and records how it settled. The returned
// error is reserved for failures writing that result back.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUndecodable, err)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"topic":    resolved.Descriptor.Topic,
		"event_id": resolved.Envelope.EventID,
	})

	pubErr := s.send(ctx, event, resolved)
	if pubErr == nil {
		if err := s.events.MarkPublishedTx(tx, event.ID); err != nil {
			return 0, fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
		return outcomePublished, nil
	}

	if errors.Is(pubErr, errUnroutable) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonUnroutable, pubErr)
	}
	var nonRetryable registry.NonRetryableError
	if errors.As(pubErr, &nonRetryable) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, pubErr))
	}

	s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish deferred")
	if err := s.events.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return 0, fmt.Errorf("mark %s failed: %w", event.ID, err)
	}
	return outcomeDeferred, nil
}

// deadLetter parks the row in the DLQ table and pins its attempt count at the
// ceiling so the claim query never returns it again.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (outcome, error) {
	msg := cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": string(reason),
		"error":        msg,
	}), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return 0, fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	if err := s.events.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return 0, fmt.Errorf("mark %s terminal: %w", event.ID, err)
	}
	return outcomeDeadLettered, nil
}

// send hands the stored envelope to the topic publisher and waits for the
// server ack. Subscribers dedupe on the event_id attribute.
func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.broker.Topic(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("%w: no publisher for topic %q", errUnroutable, topic))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	pending := pub.Publish(sendCtx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved),
	})
	if pending == nil {
		return registry.NewNonRetryableError(fmt.Errorf("topic %q refused the message", topic))
	}
	_, err := pending.Get(sendCtx)
	return err
}

func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}
