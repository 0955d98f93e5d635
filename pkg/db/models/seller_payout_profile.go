package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerPayoutProfile is the directory projection of a seller's payout
// preferences. This service never writes it.
type SellerPayoutProfile struct {
	SellerID       uuid.UUID `gorm:"column:seller_id;type:uuid;primaryKey"`
	PayoutsEnabled bool      `gorm:"column:payouts_enabled;not null;default:false"`
	PayoutAddress  string    `gorm:"column:payout_address;not null;default:''"`
	Currency       string    `gorm:"column:currency;not null;default:''"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SellerPayoutProfile) TableName() string {
	return "seller_payout_profiles"
}
