package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// LedgerEntry is one immutable, signed financial fact for a seller. Rows are
// only ever inserted; (type, idempotency_key) is unique.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SellerID       uuid.UUID             `gorm:"column:seller_id;type:uuid;not null"`
	Type           enums.LedgerEntryType `gorm:"column:type;type:text;not null"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null"`
	Currency       string                `gorm:"column:currency;type:char(3);not null"`
	AvailableAt    *time.Time            `gorm:"column:available_at"`
	OrderID        *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	PayoutID       *uuid.UUID            `gorm:"column:payout_id;type:uuid"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null"`
	Note           string                `gorm:"column:note;not null;default:''"`
	Meta           json.RawMessage       `gorm:"column:meta;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntry) TableName() string {
	return "seller_ledger_entries"
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// IsMatured reports whether the entry counts toward the available balance at t.
func (e LedgerEntry) IsMatured(t time.Time) bool {
	if e.Type != enums.LedgerEntryEarning || e.AvailableAt == nil {
		return true
	}
	return !e.AvailableAt.After(t)
}
