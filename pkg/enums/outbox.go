package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregatePayoutBatch OutboxAggregateType = "payout_batch"
	AggregatePayoutItem  OutboxAggregateType = "payout_item"
	AggregateOrder       OutboxAggregateType = "order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayoutBatch,
	AggregatePayoutItem,
	AggregateOrder,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType covers the order events this service consumes and the
// payout events it emits.
type OutboxEventType string

const (
	EventOrderPaid     OutboxEventType = "order_paid"
	EventOrderRefunded OutboxEventType = "order_refunded"

	EventPayoutBatchSubmitted   OutboxEventType = "payout_batch_submitted"
	EventPayoutBatchFailed      OutboxEventType = "payout_batch_failed"
	EventPayoutBatchSettled     OutboxEventType = "payout_batch_settled"
	EventPayoutItemCreditedBack OutboxEventType = "payout_item_credited_back"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPaid,
	EventOrderRefunded,
	EventPayoutBatchSubmitted,
	EventPayoutBatchFailed,
	EventPayoutBatchSettled,
	EventPayoutItemCreditedBack,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
