package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-payouts/api/routes"
	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/internal/sellers"
	payoutwebhook "github.com/angelmondragon/packfinderz-payouts/internal/webhooks/payouts"
	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/enums"
	"github.com/angelmondragon/packfinderz-payouts/pkg/instance"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/migrate"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox"
	"github.com/angelmondragon/packfinderz-payouts/pkg/payoutprovider"
	"github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if strings.TrimSpace(cfg.Payouts.WebhookSecret) == "" {
		requireResource(ctx, logg, "payout webhook secret", errors.New("PACKFINDERZ_PAYOUTS_WEBHOOK_SECRET is required"))
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	httpMetrics := metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
	payoutMetrics := metrics.NewPayoutMetrics(prometheus.DefaultRegisterer)

	provider, err := payoutprovider.NewClientFromConfig(cfg.Payouts, logg, payoutMetrics)
	requireResource(ctx, logg, "payout provider", err)

	mode, err := enums.ParsePayoutMode(cfg.Payouts.Mode)
	requireResource(ctx, logg, "payout mode", err)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, nil)
	requireResource(ctx, logg, "ledger service", err)

	payoutService, err := payouts.NewService(payouts.ServiceParams{
		Tx:         dbClient,
		Repository: payouts.NewRepository(dbClient.DB()),
		Sellers:    sellers.NewRepository(dbClient.DB()),
		Ledger:     ledgerService,
		LedgerRepo: ledgerRepo,
		Provider:   provider,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:     logg,
		Metrics:    payoutMetrics,
		Mode:       mode,
	})
	requireResource(ctx, logg, "payout service", err)

	webhookService, err := payoutwebhook.NewService(payoutwebhook.ServiceParams{
		Payouts: payoutService,
		Logger:  logg,
	})
	requireResource(ctx, logg, "payout webhook service", err)

	webhookGuard, err := payoutwebhook.NewGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	requireResource(ctx, logg, "payout webhook guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"payoutMode": string(mode),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			httpMetrics,
			payoutService,
			ledgerService,
			webhookService,
			webhookGuard,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
