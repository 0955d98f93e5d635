package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

// Repository persists ledger entries. Entries are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	FindByKey(ctx context.Context, entryType enums.LedgerEntryType, key string) (*models.LedgerEntry, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType, currency string) ([]models.LedgerEntry, error)
	ListByKeyPrefix(ctx context.Context, entryType enums.LedgerEntryType, prefix string) ([]models.LedgerEntry, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, currency string, limit int) ([]models.LedgerEntry, error)
	SumAvailable(ctx context.Context, sellerID uuid.UUID, currency string, at time.Time) (int64, error)
	SumPending(ctx context.Context, sellerID uuid.UUID, currency string, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent writes the entry unless (type, idempotency_key) already
// exists. It reports whether a row was created; a duplicate is not an error.
func (r *repository) InsertIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByKey(ctx context.Context, entryType enums.LedgerEntryType, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("type = ? AND idempotency_key = ?", entryType, key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType, currency string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, entryType)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	if err := q.Order("created_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByKeyPrefix(ctx context.Context, entryType enums.LedgerEntryType, prefix string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("type = ?", entryType).
		Where(`idempotency_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, currency string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).Where("seller_id = ?", sellerID)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SumAvailable adds matured earnings and every debit or adjustment.
func (r *repository) SumAvailable(ctx context.Context, sellerID uuid.UUID, currency string, at time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("seller_id = ? AND currency = ?", sellerID, currency).
		Where("(type <> ? OR available_at IS NULL OR available_at <= ?)", enums.LedgerEntryEarning, at.UTC()).
		Scan(&total).Error
	return total, err
}

// SumPending adds earnings still inside their hold period.
func (r *repository) SumPending(ctx context.Context, sellerID uuid.UUID, currency string, at time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("seller_id = ? AND currency = ? AND type = ?", sellerID, currency, enums.LedgerEntryEarning).
		Where("available_at > ?", at.UTC()).
		Scan(&total).Error
	return total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
