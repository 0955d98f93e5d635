package enums

import (
	"fmt"
	"strings"
)

// PayoutBatchStatus tracks a batch from creation through provider settlement.
type PayoutBatchStatus string

const (
	PayoutBatchCreated    PayoutBatchStatus = "CREATED"
	PayoutBatchProcessing PayoutBatchStatus = "PROCESSING"
	PayoutBatchCompleted  PayoutBatchStatus = "COMPLETED"
	PayoutBatchFailed     PayoutBatchStatus = "FAILED"
)

var validPayoutBatchStatuses = []PayoutBatchStatus{
	PayoutBatchCreated,
	PayoutBatchProcessing,
	PayoutBatchCompleted,
	PayoutBatchFailed,
}

// IsValid reports whether the value is a known batch status.
func (s PayoutBatchStatus) IsValid() bool {
	for _, candidate := range validPayoutBatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the batch no longer changes.
func (s PayoutBatchStatus) IsTerminal() bool {
	return s == PayoutBatchCompleted || s == PayoutBatchFailed
}

// ParsePayoutBatchStatus converts raw input into PayoutBatchStatus.
func ParsePayoutBatchStatus(value string) (PayoutBatchStatus, error) {
	for _, candidate := range validPayoutBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout batch status %q", value)
}

// PayoutItemStatus is the internal per-seller delivery state.
type PayoutItemStatus string

const (
	PayoutItemPending PayoutItemStatus = "PENDING"
	PayoutItemSent    PayoutItemStatus = "SENT"
	PayoutItemFailed  PayoutItemStatus = "FAILED"
)

var validPayoutItemStatuses = []PayoutItemStatus{
	PayoutItemPending,
	PayoutItemSent,
	PayoutItemFailed,
}

// IsValid reports whether the value is a known item status.
func (s PayoutItemStatus) IsValid() bool {
	for _, candidate := range validPayoutItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutItemStatus converts raw input into PayoutItemStatus.
func ParsePayoutItemStatus(value string) (PayoutItemStatus, error) {
	for _, candidate := range validPayoutItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout item status %q", value)
}

// PayoutMode selects the provider environment.
type PayoutMode string

const (
	PayoutModeSandbox PayoutMode = "sandbox"
	PayoutModeLive    PayoutMode = "live"
)

// IsValid reports whether the mode is recognized.
func (m PayoutMode) IsValid() bool {
	return m == PayoutModeSandbox || m == PayoutModeLive
}

// ParsePayoutMode converts raw input into PayoutMode, ignoring case.
func ParsePayoutMode(value string) (PayoutMode, error) {
	mode := PayoutMode(strings.ToLower(strings.TrimSpace(value)))
	if !mode.IsValid() {
		return "", fmt.Errorf("invalid payout mode %q", value)
	}
	return mode, nil
}
