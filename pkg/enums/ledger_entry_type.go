package enums

import "fmt"

// LedgerEntryType classifies a seller ledger entry. The sign of the amount is
// fixed by the type except for adjustments.
type LedgerEntryType string

const (
	LedgerEntryEarning     LedgerEntryType = "EARNING"
	LedgerEntryRefundDebit LedgerEntryType = "REFUND_DEBIT"
	LedgerEntryPayoutDebit LedgerEntryType = "PAYOUT_DEBIT"
	LedgerEntryAdjustment  LedgerEntryType = "ADJUSTMENT"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryEarning,
	LedgerEntryRefundDebit,
	LedgerEntryPayoutDebit,
	LedgerEntryAdjustment,
}

// IsValid reports whether the value matches a known ledger entry type.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// AcceptsAmount reports whether the signed amount is legal for the type.
func (t LedgerEntryType) AcceptsAmount(cents int64) bool {
	switch t {
	case LedgerEntryEarning:
		return cents > 0
	case LedgerEntryRefundDebit, LedgerEntryPayoutDebit:
		return cents < 0
	case LedgerEntryAdjustment:
		return cents != 0
	default:
		return false
	}
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
