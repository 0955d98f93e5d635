package payouts

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// Outcome tells an operator what a batch run did.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeNothingToDo       Outcome = "nothing_to_do"
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
	OutcomeProviderRejected  Outcome = "provider_rejected"
)

// CreateBatchInput selects the currency to pay out and the smallest
// available balance worth sending.
type CreateBatchInput struct {
	Currency string
	MinCents int64
	Note     string
}

type CreateBatchResult struct {
	Outcome    Outcome    `json:"outcome"`
	BatchID    *uuid.UUID `json:"batch_id,omitempty"`
	Message    string     `json:"message,omitempty"`
	ItemCount  int        `json:"item_count,omitempty"`
	TotalCents int64      `json:"total_cents,omitempty"`
}

type SyncResult struct {
	BatchID           uuid.UUID               `json:"batch_id"`
	Status            enums.PayoutBatchStatus `json:"status"`
	ItemsUpdated      int                     `json:"items_updated"`
	CreditedBackCount int                     `json:"credited_back_count"`
	Unmatched         int                     `json:"unmatched,omitempty"`
}

// ItemNotification is a single-item status change pushed by the provider.
type ItemNotification struct {
	EventID         string
	ExternalBatchID string
	SenderBatchID   string
	ExternalItemID  string
	SenderItemID    string
	Status          string
	Receiver        string
	AmountCents     int64
	Currency        string
	Error           string
}

type ReconcileItemResult struct {
	BatchID      uuid.UUID              `json:"batch_id"`
	ItemID       uuid.UUID              `json:"item_id"`
	Status       enums.PayoutItemStatus `json:"status"`
	Updated      bool                   `json:"updated"`
	CreditedBack bool                   `json:"credited_back"`
}

// BatchList is one page of batches, newest first.
type BatchList struct {
	Batches    []models.PayoutBatch `json:"batches"`
	NextCursor string               `json:"next_cursor,omitempty"`
}
