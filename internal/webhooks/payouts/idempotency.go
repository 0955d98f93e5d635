package payoutwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

const guardScope = "payout-webhook"

// Guard remembers delivered event ids in Redis. It only short-circuits
// redeliveries; reconciliation itself is idempotent.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark claims eventID and reports whether it was already claimed.
func (g *Guard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(guardScope, eventID), time.Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return !set, nil
}

// Release forgets eventID so a failed delivery can be retried.
func (g *Guard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(guardScope, eventID))
}
