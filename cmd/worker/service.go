package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-payouts/internal/consumers/orders"
	"github.com/angelmondragon/packfinderz-payouts/pkg/db"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	"github.com/angelmondragon/packfinderz-payouts/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

const heartbeatInterval = time.Minute

type ServiceParams struct {
	Logger        *logger.Logger
	DB            *db.Client
	Redis         *redis.Client
	PubSub        *pubsub.Client
	OrderConsumer *orders.Consumer
}

type Service struct {
	logg     *logger.Logger
	db       *db.Client
	redis    *redis.Client
	pubsub   *pubsub.Client
	consumer *orders.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.OrderConsumer == nil {
		return nil, errors.New("order consumer is required")
	}
	return &Service{
		logg:     params.Logger,
		db:       params.DB,
		redis:    params.Redis,
		pubsub:   params.PubSub,
		consumer: params.OrderConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "order consumer stopped unexpectedly", err)
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
