package sellers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
)

func TestListPayableFiltersDirectory(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	usd := models.SellerPayoutProfile{SellerID: uuid.New(), PayoutsEnabled: true, PayoutAddress: "a@x.io", Currency: "usd"}
	anyCur := models.SellerPayoutProfile{SellerID: uuid.New(), PayoutsEnabled: true, PayoutAddress: "b@x.io"}
	eur := models.SellerPayoutProfile{SellerID: uuid.New(), PayoutsEnabled: true, PayoutAddress: "c@x.io", Currency: "EUR"}
	disabled := models.SellerPayoutProfile{SellerID: uuid.New(), PayoutsEnabled: false, PayoutAddress: "d@x.io"}
	noAddress := models.SellerPayoutProfile{SellerID: uuid.New(), PayoutsEnabled: true, PayoutAddress: "  "}
	for _, row := range []models.SellerPayoutProfile{usd, anyCur, eur, disabled, noAddress} {
		require.NoError(t, conn.Create(&row).Error)
	}

	rows, err := repo.ListPayable(ctx, "USD")
	require.NoError(t, err)

	got := map[uuid.UUID]bool{}
	for _, row := range rows {
		got[row.SellerID] = true
	}
	assert.Len(t, rows, 2)
	assert.True(t, got[usd.SellerID])
	assert.True(t, got[anyCur.SellerID])
	if len(rows) == 2 {
		assert.True(t, rows[0].SellerID.String() < rows[1].SellerID.String(), "rows ordered by seller id")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	row, err := repo.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, row)
}
