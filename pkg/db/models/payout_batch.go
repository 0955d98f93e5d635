package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// PayoutBatch groups one payout item per seller for a single provider
// submission. RunKey is set only while the batch holds the per-currency run
// lock; the unique index on it is the lock.
type PayoutBatch struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Mode            enums.PayoutMode        `gorm:"column:mode;type:text;not null" json:"mode"`
	Currency        string                  `gorm:"column:currency;type:char(3);not null" json:"currency"`
	TotalCents      int64                   `gorm:"column:total_cents;not null" json:"total_cents"`
	RunKey          *string                 `gorm:"column:run_key" json:"-"`
	ExternalBatchID *string                 `gorm:"column:external_batch_id" json:"external_batch_id,omitempty"`
	Status          enums.PayoutBatchStatus `gorm:"column:status;type:text;not null" json:"status"`
	Note            string                  `gorm:"column:note;not null;default:''" json:"note,omitempty"`
	Error           *string                 `gorm:"column:error" json:"error,omitempty"`
	SubmittedAt     *time.Time              `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	LastSyncedAt    *time.Time              `gorm:"column:last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Items []PayoutItem `gorm:"foreignKey:BatchID;references:ID" json:"items,omitempty"`
}

func (PayoutBatch) TableName() string {
	return "payout_batches"
}

func (b *PayoutBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// PayoutItem is a single seller transfer inside a batch.
type PayoutItem struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	BatchID         uuid.UUID              `gorm:"column:batch_id;type:uuid;not null" json:"batch_id"`
	SellerID        uuid.UUID              `gorm:"column:seller_id;type:uuid;not null" json:"seller_id"`
	ReceiverAddress string                 `gorm:"column:receiver_address;not null" json:"receiver_address"`
	AmountCents     int64                  `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency        string                 `gorm:"column:currency;type:char(3);not null" json:"currency"`
	Status          enums.PayoutItemStatus `gorm:"column:status;type:text;not null" json:"status"`
	ExternalItemID  *string                `gorm:"column:external_item_id" json:"external_item_id,omitempty"`
	Error           *string                `gorm:"column:error" json:"error,omitempty"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PayoutItem) TableName() string {
	return "payout_items"
}

func (i *PayoutItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
