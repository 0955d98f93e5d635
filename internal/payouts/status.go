package payouts

import (
	"strings"

	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// MapItemStatus folds a provider item status into the local vocabulary.
// Unknown and intermediate states stay PENDING.
func MapItemStatus(remote string) enums.PayoutItemStatus {
	switch strings.ToUpper(strings.TrimSpace(remote)) {
	case "SUCCESS", "SUCCEEDED", "COMPLETED", "PAID":
		return enums.PayoutItemSent
	case "FAILED", "RETURNED", "BLOCKED", "REFUNDED", "REVERSED", "DENIED", "CANCELED", "CANCELLED":
		return enums.PayoutItemFailed
	default:
		return enums.PayoutItemPending
	}
}

// MapBatchStatus folds a provider batch status into the local vocabulary.
func MapBatchStatus(remote string) enums.PayoutBatchStatus {
	switch strings.ToUpper(strings.TrimSpace(remote)) {
	case "SUCCESS", "COMPLETED":
		return enums.PayoutBatchCompleted
	case "DENIED", "FAILED", "CANCELED", "CANCELLED":
		return enums.PayoutBatchFailed
	default:
		return enums.PayoutBatchProcessing
	}
}

// nextItemStatus applies an incoming status to the current one. FAILED is
// final, SENT may still turn FAILED (a late return), and PENDING never
// overwrites a settled item.
func nextItemStatus(current, incoming enums.PayoutItemStatus) (enums.PayoutItemStatus, bool) {
	switch {
	case current == incoming:
		return current, false
	case current == enums.PayoutItemFailed:
		return current, false
	case incoming == enums.PayoutItemPending:
		return current, false
	case current == enums.PayoutItemSent && incoming != enums.PayoutItemFailed:
		return current, false
	default:
		return incoming, true
	}
}

// nextBatchStatus keeps settled batches settled; reconciliation only moves a
// submitted batch forward.
func nextBatchStatus(current, incoming enums.PayoutBatchStatus) enums.PayoutBatchStatus {
	if current.IsTerminal() || current == enums.PayoutBatchCreated {
		return current
	}
	return incoming
}
