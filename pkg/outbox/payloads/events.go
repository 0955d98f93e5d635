package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderPaidEvent is published by the order service once payment for an order
// has been captured. Money fields are decimal strings in major units.
type OrderPaidEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	Currency      string          `json:"currency"`
	CapturedGross string          `json:"captured_gross,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
	LineItems     []OrderLineItem `json:"line_items"`
}

// OrderLineItem is one purchased product line. SellerID stays a string so a
// single malformed line can be skipped without rejecting the whole order.
type OrderLineItem struct {
	SellerID   string `json:"seller_id"`
	ProductKey string `json:"product_key"`
	UnitPrice  string `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	Currency   string `json:"currency,omitempty"`
}

// OrderRefundedEvent is published for every refund issued against an order.
// A nil Amount means the whole order was refunded.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	RefundID      string    `json:"refund_id"`
	Amount        *string   `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	CapturedGross *string   `json:"captured_gross,omitempty"`
	RefundedAt    time.Time `json:"refunded_at"`
}

// PayoutBatchSubmittedEvent reports a batch accepted by the payout provider.
type PayoutBatchSubmittedEvent struct {
	BatchID         uuid.UUID `json:"batch_id"`
	ExternalBatchID string    `json:"external_batch_id"`
	Mode            string    `json:"mode"`
	Currency        string    `json:"currency"`
	TotalCents      int64     `json:"total_cents"`
	ItemCount       int       `json:"item_count"`
}

// PayoutBatchFailedEvent reports a batch the provider refused.
type PayoutBatchFailedEvent struct {
	BatchID  uuid.UUID `json:"batch_id"`
	Currency string    `json:"currency"`
	Error    string    `json:"error"`
}

// PayoutBatchSettledEvent reports a batch reaching a terminal status.
type PayoutBatchSettledEvent struct {
	BatchID     uuid.UUID `json:"batch_id"`
	Status      string    `json:"status"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
}

// PayoutItemCreditedBackEvent tells the seller-facing side that a failed
// transfer was returned to the seller balance.
type PayoutItemCreditedBackEvent struct {
	BatchID     uuid.UUID `json:"batch_id"`
	ItemID      uuid.UUID `json:"item_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
}
