package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/adapters/telegram"
	"ride-match-bot/internal/infra/cache"
	"ride-match-bot/internal/infra/config"
	"ride-match-bot/internal/infra/log"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/digest"
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
		logger.Fatal().Err(err).Msg("digest: не удалось открыть хранилище")
	}
	defer closeStore()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("digest: не удалось создать бота")
	}
	service := digest.NewService(store, store, store, telegram.NewSender(botAPI), cfg.Telegram.AdminChatID, cfg.Location(), log.Component(logger, "digest"))

	// Несколько реплик отправляют один дайджест за период благодаря ключу в Redis.
	var guard *cache.RedisSeen
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		guard = cache.NewRedisSeen(rdb, cfg.Caches.SeenTTL)
	}

	send := func(now time.Time) {
		run := func() error {
			res, err := service.SendReview(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("matches", res.Matches).Msg("digest: дайджест отправлен")
			return nil
		}
		var err error
		if guard != nil {
			key := "digest:" + now.Truncate(cfg.Digest.Interval).UTC().Format(time.RFC3339)
			err = guard.Once(ctx, key, cfg.Digest.Interval, run)
		} else {
			err = run()
		}
		if err != nil {
			logger.Error().Err(err).Msg("digest: не удалось отправить дайджест")
		}
	}

	logger.Info().Dur("interval", cfg.Digest.Interval).Msg("digest: планировщик запущен")
	ticker := time.NewTicker(cfg.Digest.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("digest: остановка")
			return
		case now := <-ticker.C:
			send(now)
		}
	}
}
