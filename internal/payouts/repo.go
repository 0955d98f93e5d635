package payouts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pagination"
)

// Repository persists payout batches and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	AcquireRunLock(ctx context.Context, batch *models.PayoutBatch) (bool, error)
	CreateItems(ctx context.Context, items []models.PayoutItem) error
	SetTotal(ctx context.Context, id uuid.UUID, totalCents int64) error
	ReleaseUnsubmitted(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	FindByExternalID(ctx context.Context, externalBatchID string) (*models.PayoutBatch, error)
	List(ctx context.Context, params pagination.Params) (*BatchList, error)
	ListByStatus(ctx context.Context, status enums.PayoutBatchStatus, limit int) ([]models.PayoutBatch, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, externalBatchID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	UpdateBatchStatus(ctx context.Context, id uuid.UUID, status enums.PayoutBatchStatus, syncedAt time.Time) error
	UpdateItem(ctx context.Context, id uuid.UUID, expected enums.PayoutItemStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the batch repository to a database handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// AcquireRunLock inserts the batch carrying its run key. A conflict on the
// unique run_key means another run holds the lock for the currency.
func (r *repository) AcquireRunLock(ctx context.Context, batch *models.PayoutBatch) (bool, error) {
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_key"}},
			DoNothing: true,
		}).
		Create(batch)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateItems(ctx context.Context, items []models.PayoutItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) SetTotal(ctx context.Context, id uuid.UUID, totalCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ?", id).
		Update("total_cents", totalCents).Error
}

// ReleaseUnsubmitted closes a lock-holding batch that never got items. The
// row is kept as FAILED and gives up its run key.
func (r *repository) ReleaseUnsubmitted(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ? AND status = ? AND external_batch_id IS NULL", id, enums.PayoutBatchCreated).
		Updates(map[string]any{
			"status":  enums.PayoutBatchFailed,
			"error":   reason,
			"run_key": gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("seller_id ASC") }).
		Where("id = ?", id).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalBatchID string) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("seller_id ASC") }).
		Where("external_batch_id = ?", externalBatchID).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches newest first without their items.
func (r *repository) List(ctx context.Context, params pagination.Params) (*BatchList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(strings.TrimSpace(params.Cursor))
	if err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Model(&models.PayoutBatch{})
	if cursor != nil {
		at := cursor.CreatedAt.UTC()
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, cursor.ID)
	}

	var rows []models.PayoutBatch
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}

	page, next := pagination.Trim(rows, limit, func(b models.PayoutBatch) pagination.Cursor {
		return pagination.Cursor{CreatedAt: b.CreatedAt, ID: b.ID}
	})
	return &BatchList{Batches: page, NextCursor: next}, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PayoutBatchStatus, limit int) ([]models.PayoutBatch, error) {
	var rows []models.PayoutBatch
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSubmitted moves a CREATED batch to PROCESSING and releases its run
// lock. It reports false when the batch was no longer CREATED.
func (r *repository) MarkSubmitted(ctx context.Context, id uuid.UUID, externalBatchID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ? AND status = ?", id, enums.PayoutBatchCreated).
		Updates(map[string]any{
			"status":            enums.PayoutBatchProcessing,
			"external_batch_id": externalBatchID,
			"submitted_at":      at.UTC(),
			"run_key":           gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed records a rejected submission and releases the run lock.
func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  enums.PayoutBatchFailed,
			"error":   reason,
			"run_key": gorm.Expr("NULL"),
		}).Error
}

func (r *repository) UpdateBatchStatus(ctx context.Context, id uuid.UUID, status enums.PayoutBatchStatus, syncedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         status,
			"last_synced_at": syncedAt.UTC(),
		}).Error
}

// UpdateItem applies updates only while the item still has the expected
// status, so concurrent reconcilers cannot both claim one transition.
func (r *repository) UpdateItem(ctx context.Context, id uuid.UUID, expected enums.PayoutItemStatus, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.PayoutItem{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
