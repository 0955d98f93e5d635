package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-payouts/api/controllers"
	webhookcontrollers "github.com/angelmondragon/packfinderz-payouts/api/controllers/webhooks"
	"github.com/angelmondragon/packfinderz-payouts/api/middleware"
	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	payoutwebhook "github.com/angelmondragon/packfinderz-payouts/internal/webhooks/payouts"
	pkgauth "github.com/angelmondragon/packfinderz-payouts/pkg/auth"
	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

// redisStore is what the API needs from redis: readiness and idempotency.
type redisStore interface {
	redis.IdempotencyStore
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	httpMetrics *metrics.HTTPMetrics,
	payoutService controllers.PayoutAdminService,
	ledgerService ledger.Service,
	webhookService webhookcontrollers.PayoutWebhookService,
	webhookGuard *payoutwebhook.Guard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payouts", webhookcontrollers.PayoutWebhook(webhookService, cfg.Payouts.WebhookSecret, webhookGuard, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(pkgauth.RoleAdmin, logg))

		r.Route("/payouts/batches", func(r chi.Router) {
			r.Get("/", controllers.AdminListPayoutBatches(payoutService, logg))
			r.With(middleware.Idempotency(redisClient, middleware.PayoutIdempotencyTTL, logg)).
				Post("/", controllers.AdminCreatePayoutBatch(payoutService, cfg.Payouts.BatchNote, logg))
			r.Get("/{batchId}", controllers.AdminGetPayoutBatch(payoutService, logg))
			r.With(middleware.Idempotency(redisClient, middleware.DefaultIdempotencyTTL, logg)).
				Post("/{batchId}/sync", controllers.AdminSyncPayoutBatch(payoutService, logg))
		})

		r.Get("/sellers/{sellerId}/balance", controllers.AdminSellerBalance(ledgerService, logg))
		r.Get("/sellers/{sellerId}/ledger", controllers.AdminSellerLedger(ledgerService, logg))
	})

	return r
}
