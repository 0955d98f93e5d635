package payoutwebhook

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/money"
)

// Provider event types carrying a single item status.
const (
	EventItemSucceeded = "payout.item.succeeded"
	EventItemFailed    = "payout.item.failed"
	EventItemUpdated   = "payout.item.updated"
	EventItemReturned  = "payout.item.returned"
)

// Event is the provider's webhook body.
type Event struct {
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	BatchID       string     `json:"batch_id"`
	SenderBatchID string     `json:"sender_batch_id"`
	Item          *EventItem `json:"item"`
}

type EventItem struct {
	ItemID       string      `json:"item_id"`
	SenderItemID string      `json:"sender_item_id"`
	Status       string      `json:"status"`
	Receiver     string      `json:"receiver"`
	Amount       EventAmount `json:"amount"`
	Error        string      `json:"error"`
}

type EventAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Decode parses and sanity checks a webhook body.
func Decode(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook body")
	}
	event.EventID = strings.TrimSpace(event.EventID)
	event.EventType = strings.ToLower(strings.TrimSpace(event.EventType))
	if event.EventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required")
	}
	if event.EventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event_type is required")
	}
	return &event, nil
}

// IsItemEvent reports whether the event carries an item status we reconcile.
func (e *Event) IsItemEvent() bool {
	switch e.EventType {
	case EventItemSucceeded, EventItemFailed, EventItemUpdated, EventItemReturned:
		return true
	}
	return false
}

// Notification converts an item event into the reconciliation input. The
// item status wins over the event type when both are present.
func (e *Event) Notification() (payouts.ItemNotification, error) {
	if e.Item == nil {
		return payouts.ItemNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "item is required")
	}
	if strings.TrimSpace(e.BatchID) == "" && strings.TrimSpace(e.SenderBatchID) == "" {
		return payouts.ItemNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "batch reference is required")
	}
	status := strings.TrimSpace(e.Item.Status)
	if status == "" {
		status = statusForEventType(e.EventType)
	}
	if status == "" {
		return payouts.ItemNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "item status is required")
	}

	var amount int64
	if v := strings.TrimSpace(e.Item.Amount.Value); v != "" {
		parsed, err := money.ParseCents(v)
		if err != nil {
			return payouts.ItemNotification{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item amount")
		}
		amount = parsed
	}
	return payouts.ItemNotification{
		EventID:         e.EventID,
		ExternalBatchID: strings.TrimSpace(e.BatchID),
		SenderBatchID:   strings.TrimSpace(e.SenderBatchID),
		ExternalItemID:  strings.TrimSpace(e.Item.ItemID),
		SenderItemID:    strings.TrimSpace(e.Item.SenderItemID),
		Status:          status,
		Receiver:        e.Item.Receiver,
		AmountCents:     amount,
		Currency:        strings.ToUpper(strings.TrimSpace(e.Item.Amount.Currency)),
		Error:           e.Item.Error,
	}, nil
}

func statusForEventType(eventType string) string {
	switch eventType {
	case EventItemSucceeded:
		return "SUCCESS"
	case EventItemFailed:
		return "FAILED"
	case EventItemReturned:
		return "RETURNED"
	}
	return ""
}
