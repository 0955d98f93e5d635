package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

const maxDLQErrorLen = 1024

// DLQRepository stores payout events the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx must run in the transaction that marks the outbox row terminal.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// DLQBacklog is the number of parked rows for one event type and reason.
type DLQBacklog struct {
	EventType   enums.OutboxEventType      `gorm:"column:event_type"`
	ErrorReason enums.OutboxDLQErrorReason `gorm:"column:error_reason"`
	Count       int64                      `gorm:"column:count"`
}

// Backlog groups the dead-letter table so operators see which payout
// events are stuck and why.
func (r *DLQRepository) Backlog(ctx context.Context) ([]DLQBacklog, error) {
	var rows []DLQBacklog
	err := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("event_type, error_reason, COUNT(*) AS count").
		Group("event_type, error_reason").
		Order("event_type ASC").
		Order("error_reason ASC").
		Scan(&rows).Error
	return rows, err
}

func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
