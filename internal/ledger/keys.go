package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Idempotency keys are deterministic so any retry of the same business fact
// lands on the same (type, key) pair.

func EarningKey(orderID uuid.UUID, productKey string, sellerID uuid.UUID) string {
	return fmt.Sprintf("earning:%s:%s:%s", orderID, productKey, sellerID)
}

func RefundKey(orderID uuid.UUID, refundID string, sellerID uuid.UUID, currency string) string {
	return fmt.Sprintf("%s%s:%s", RefundKeyPrefix(orderID, refundID), sellerID, currency)
}

// RefundKeyPrefix matches every seller debit of one refund.
func RefundKeyPrefix(orderID uuid.UUID, refundID string) string {
	return fmt.Sprintf("refund:%s:%s:", orderID, refundID)
}

func PayoutDebitKey(batchID, sellerID uuid.UUID, currency string) string {
	return fmt.Sprintf("payout:%s:%s:%s", batchID, sellerID, currency)
}

// CreditBackKey identifies a returned payout item. The provider item id is
// preferred; without one the receiver and amount pin the item.
func CreditBackKey(batchID, sellerID uuid.UUID, externalItemID, receiver string, amountCents int64, currency string) string {
	ref := strings.TrimSpace(externalItemID)
	if ref == "" {
		ref = fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(receiver)), amountCents)
	}
	return fmt.Sprintf("creditback:%s:%s:%s:%s", batchID, sellerID, ref, currency)
}

// CreditBackKeyPrefix matches every credit-back written for one seller's
// item in a batch, whichever item reference was used.
func CreditBackKeyPrefix(batchID, sellerID uuid.UUID) string {
	return fmt.Sprintf("creditback:%s:%s:", batchID, sellerID)
}
