package sellers

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
)

// Repository reads the seller payout directory. Rows are owned by the
// directory service; this side never writes them.
type Repository interface {
	ListPayable(ctx context.Context, currency string) ([]models.SellerPayoutProfile, error)
	Get(ctx context.Context, sellerID uuid.UUID) (*models.SellerPayoutProfile, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a directory reader bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// ListPayable returns sellers with payouts enabled, a payout address, and a
// currency preference matching currency (or none), ordered by seller id.
func (r *repository) ListPayable(ctx context.Context, currency string) ([]models.SellerPayoutProfile, error) {
	var rows []models.SellerPayoutProfile
	err := r.db.WithContext(ctx).
		Where("payouts_enabled = ?", true).
		Where("TRIM(payout_address) <> ''").
		Where("(TRIM(currency) = '' OR UPPER(TRIM(currency)) = ?)", strings.ToUpper(currency)).
		Order("seller_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Get(ctx context.Context, sellerID uuid.UUID) (*models.SellerPayoutProfile, error) {
	var row models.SellerPayoutProfile
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
