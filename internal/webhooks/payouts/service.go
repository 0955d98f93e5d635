package payoutwebhook

import (
	"context"
	"errors"

	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

type itemReconciler interface {
	ReconcileItem(ctx context.Context, n payouts.ItemNotification) (*payouts.ReconcileItemResult, error)
}

type ServiceParams struct {
	Payouts itemReconciler
	Logger  *logger.Logger
}

// Service applies provider payout webhooks.
type Service struct {
	payouts itemReconciler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payouts == nil {
		return nil, errors.New("payouts service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Service{payouts: params.Payouts, logg: params.Logger}, nil
}

// HandleEvent reconciles item events. Other event types are acknowledged
// and left to the poller.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
	})
	if !event.IsItemEvent() {
		s.logg.Info(ctx, "ignoring payout webhook event type")
		return nil
	}
	n, err := event.Notification()
	if err != nil {
		return err
	}
	res, err := s.payouts.ReconcileItem(ctx, n)
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id":      res.BatchID.String(),
		"item_id":       res.ItemID.String(),
		"status":        string(res.Status),
		"updated":       res.Updated,
		"credited_back": res.CreditedBack,
	}), "payout webhook applied")
	return nil
}
