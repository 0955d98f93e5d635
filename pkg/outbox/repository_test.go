package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-payouts/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db/models"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
)

func TestDeletePublishedBeforeKeepsPendingAndRecentRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	recent := cutoff.Add(time.Hour)

	row := func(createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
		ev := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventPayoutBatchSubmitted,
			AggregateType: enums.AggregatePayoutBatch,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}
		require.NoError(t, conn.Create(&ev).Error)
		return ev.ID
	}

	published := row(old, &old, 1)
	publishedRecently := row(old, &recent, 1)
	pending := row(old, nil, 2)
	parked := row(old, nil, 5)

	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []uuid.UUID
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Pluck("id", &remaining).Error)
	assert.ElementsMatch(t, []uuid.UUID{publishedRecently, pending}, remaining)
	assert.NotContains(t, remaining, published)
	assert.NotContains(t, remaining, parked)
}

func TestDeletePublishedBeforeRequiresTransaction(t *testing.T) {
	repo := NewRepository(nil)
	_, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now(), 1)
	assert.Error(t, err)
}
