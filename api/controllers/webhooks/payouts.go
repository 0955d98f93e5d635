package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	payoutwebhook "github.com/angelmondragon/packfinderz-payouts/internal/webhooks/payouts"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/payoutprovider"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Payout-Signature"

const maxWebhookBody = 1 << 20

type PayoutWebhookService interface {
	HandleEvent(ctx context.Context, event *payoutwebhook.Event) error
}

type payoutWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// PayoutWebhook verifies and applies payout provider item notifications.
// A failed event releases its idempotency claim so the provider's retry
// is processed.
func PayoutWebhook(svc PayoutWebhookService, secret string, guard payoutWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sig := r.Header.Get(SignatureHeader)
		if sig == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "payout signature missing"))
			return
		}
		if !payoutprovider.VerifySignature(secret, payload, sig) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid payout signature"))
			return
		}

		event, err := payoutwebhook.Decode(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithFields(ctx, map[string]any{
			"event_id":   event.EventID,
			"event_type": event.EventType,
		})

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			logg.Info(ctx, "payout webhook replay ignored")
			responses.WriteSuccess(w, map[string]bool{"duplicate": true})
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if relErr := guard.Release(ctx, event.EventID); relErr != nil {
				logg.Error(ctx, "release webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, "payout webhook processed")
		responses.WriteSuccess(w, map[string]bool{"duplicate": false})
	}
}
