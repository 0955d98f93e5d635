package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-payouts/internal/consumers/orders"
	"github.com/angelmondragon/packfinderz-payouts/internal/earnings"
	"github.com/angelmondragon/packfinderz-payouts/internal/ledger"
	"github.com/angelmondragon/packfinderz-payouts/internal/refunds"
	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/instance"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/metrics"
	"github.com/angelmondragon/packfinderz-payouts/pkg/migrate"
	"github.com/angelmondragon/packfinderz-payouts/pkg/outbox/idempotency"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.OrdersSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "orders subscription", errors.New("subscription not configured"))
	}

	payoutMetrics := metrics.NewPayoutMetrics(prometheus.DefaultRegisterer)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, nil)
	requireResource(ctx, logg, "ledger service", err)

	accrual, err := earnings.NewService(earnings.ServiceParams{
		Ledger:     ledgerService,
		Logger:     logg,
		Metrics:    payoutMetrics,
		FeeBps:     cfg.Ledger.PlatformFeeBps,
		HoldPeriod: cfg.Ledger.HoldPeriod,
	})
	requireResource(ctx, logg, "earnings service", err)

	allocator, err := refunds.NewService(refunds.ServiceParams{
		Ledger:     ledgerService,
		Repository: ledgerRepo,
		Logger:     logg,
		Metrics:    payoutMetrics,
	})
	requireResource(ctx, logg, "refund allocator", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	consumer, err := orders.NewConsumer(orders.ConsumerParams{
		Subscription: subscription,
		Accruer:      accrual,
		Allocator:    allocator,
		Idempotency:  manager,
		Logger:       logg,
	})
	requireResource(ctx, logg, "order consumer", err)

	service, err := NewService(ServiceParams{
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		PubSub:        pubsubClient,
		OrderConsumer: consumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
