// Package payoutprovider talks to the external batch payout service. The
// provider is treated as an eventually consistent oracle: a batch is
// submitted once and its per-item outcome is read back later.
package payoutprovider

import (
	"context"
	"fmt"
	"net/http"
)

// Provider is the subset of the payout API the engine needs.
type Provider interface {
	SubmitBatch(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	GetBatch(ctx context.Context, externalBatchID string) (*BatchStatus, error)
}

// Item is one transfer inside a submitted batch.
type Item struct {
	SenderItemID string
	Receiver     string
	AmountCents  int64
	Currency     string
	Note         string
}

// SubmitRequest carries a whole batch. SenderBatchID is the local batch id
// and makes the submission idempotent on the provider side.
type SubmitRequest struct {
	SenderBatchID string
	Currency      string
	Note          string
	Items         []Item
}

type SubmitResponse struct {
	ExternalBatchID string
	Status          string
}

// BatchStatus is the provider's current view of a batch.
type BatchStatus struct {
	ExternalBatchID string
	SenderBatchID   string
	Status          string
	Items           []ItemStatus
}

type ItemStatus struct {
	ExternalItemID string
	SenderItemID   string
	Status         string
	Receiver       string
	AmountCents    int64
	Currency       string
	Error          string
}

// Error is a provider failure. Retryable errors are timeouts, throttling and
// server faults; everything else is a rejection.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payout provider %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payout provider %d: %s", e.StatusCode, e.Message)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
