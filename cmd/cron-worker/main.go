package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-payouts/internal/cron"
	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/internal/payouts"
	"github.com/angelmondragon/packfinderz-payouts/internal/sellers"
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

// lockLease outlives the slowest expected cycle (provider retries included).
const lockLease = 30 * time.Minute

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	payoutMetrics := metrics.NewPayoutMetrics(prometheus.DefaultRegisterer)

	provider, err := payoutprovider.NewClientFromConfig(cfg.Payouts, logg, payoutMetrics)
	requireResource(ctx, logg, "payout provider", err)

	mode, err := enums.ParsePayoutMode(cfg.Payouts.Mode)
	requireResource(ctx, logg, "payout mode", err)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, nil)
	requireResource(ctx, logg, "ledger service", err)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	payoutService, err := payouts.NewService(payouts.ServiceParams{
		Tx:         dbClient,
		Repository: payouts.NewRepository(dbClient.DB()),
		Sellers:    sellers.NewRepository(dbClient.DB()),
		Ledger:     ledgerService,
		LedgerRepo: ledgerRepo,
		Provider:   provider,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Logger:     logg,
		Metrics:    payoutMetrics,
		Mode:       mode,
	})
	requireResource(ctx, logg, "payout service", err)

	batchJob, err := cron.NewPayoutBatchJob(cron.PayoutBatchJobParams{
		Logger:     logg,
		Payouts:    payoutService,
		Currencies: cfg.Payouts.Currencies,
		MinCents:   cfg.Payouts.MinPayoutCents,
		Note:       cfg.Payouts.BatchNote,
	})
	requireResource(ctx, logg, "payout batch job", err)

	syncJob, err := cron.NewPayoutSyncJob(cron.PayoutSyncJobParams{
		Logger:  logg,
		Payouts: payoutService,
	})
	requireResource(ctx, logg, "payout sync job", err)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	registry := cron.NewRegistry()
	registry.Register(syncJob, cfg.Payouts.SyncInterval)
	registry.Register(batchJob, cfg.Payouts.CronInterval)
	registry.Register(retentionJob, 24*time.Hour)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", envName(cfg.App.Env)), lockLease)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Tick:     tickFor(cfg.Payouts),
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"payoutMode":  string(mode),
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker shutting down gracefully")
}

// tickFor wakes often enough for the most frequent payout job.
func tickFor(cfg config.PayoutsConfig) time.Duration {
	tick := time.Minute
	for _, d := range []time.Duration{cfg.SyncInterval, cfg.CronInterval} {
		if d > 0 && d < tick {
			tick = d
		}
	}
	return tick
}

func envName(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
