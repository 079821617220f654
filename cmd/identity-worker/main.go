package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/infra/config"
	"ride-match-bot/internal/infra/log"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/infra/queue"
	"ride-match-bot/internal/usecase/identity"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	store, closeStore, err := repo.Open(ctx, cfg.Store, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("identity-worker: не удалось открыть хранилище")
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	backfillQueue, closeQueue, err := queue.Open(cfg.Queues.RabbitURL, rdb, cfg.Queues.Backfill)
	if err != nil {
		logger.Fatal().Err(err).Msg("identity-worker: не удалось открыть очередь")
	}
	defer func() { _ = closeQueue() }()
	if queue.IsLocal(backfillQueue) {
		logger.Fatal().Msg("identity-worker: нужен RABBITMQ_URL или REDIS_ADDR, очередь в памяти обслуживает сам бот")
	}

	backfiller := identity.NewBackfiller(backfillQueue, store, log.Component(logger, "identity"))
	if err := backfiller.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("identity-worker: воркер остановлен")
	}
	logger.Info().Msg("identity-worker: остановка")
}
