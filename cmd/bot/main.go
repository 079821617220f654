package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"ride-match-bot/internal/adapters/bot"
	"ride-match-bot/internal/adapters/extractor"
	"ride-match-bot/internal/adapters/mtproto"
	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/adapters/telegram"
	"ride-match-bot/internal/domain"
	"ride-match-bot/internal/infra/cache"
	"ride-match-bot/internal/infra/config"
	"ride-match-bot/internal/infra/log"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/infra/openai"
	"ride-match-bot/internal/infra/queue"
	"ride-match-bot/internal/usecase/cluster"
	"ride-match-bot/internal/usecase/digest"
	"ride-match-bot/internal/usecase/identity"
	"ride-match-bot/internal/usecase/intake"
	"ride-match-bot/internal/usecase/location"
	"ride-match-bot/internal/usecase/matcher"
	"ride-match-bot/internal/usecase/requests"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	store, closeStore, err := repo.Open(ctx, cfg.Store, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось открыть хранилище")
	}
	defer closeStore()

	var rdb *redis.Client
	var shared domain.SeenCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		shared = cache.NewRedisSeen(rdb, cfg.Caches.SeenTTL)
	}

	backfillQueue, closeQueue, err := queue.Open(cfg.Queues.RabbitURL, rdb, cfg.Queues.Backfill)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось открыть очередь догрузки")
	}
	defer func() { _ = closeQueue() }()

	seen := cache.NewBounded[string, struct{}](cfg.Caches.Dedup)
	identities := cache.NewBounded[string, string](cfg.Caches.Identity)
	groupNames := cache.NewBounded[string, string](cfg.Caches.Groups)
	go seen.Janitor(ctx, cfg.Caches.ClearInterval)
	go identities.Janitor(ctx, cfg.Caches.ClearInterval)
	go groupNames.Janitor(ctx, cfg.Caches.ClearInterval)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI)

	normalizer := location.New()
	resolver := identity.NewResolver(store, backfillQueue, identities, log.Component(logger, "identity"))
	llm := extractor.New(openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout), cfg.LLM.Model, cfg.LLM.Timeout, cfg.DefaultOrigin)
	pipeline := intake.NewPipeline(intake.Deps{
		Seen:      seen,
		Shared:    shared,
		Audit:     store,
		Identity:  resolver,
		Extractor: llm,
		Gateway:   requests.NewGateway(store, normalizer, log.Component(logger, "requests")),
		Matcher:   matcher.New(store, store, normalizer, log.Component(logger, "matcher")),
		Notifier:  digest.NewAnnouncer(sender, cfg.Telegram.AdminChatID, log.Component(logger, "digest")),
		Logger:    log.Component(logger, "intake"),
	})

	groups := intake.NewGroups(store, groupNames, log.Component(logger, "intake"))
	go groups.Poll(ctx, cfg.Groups.PollInterval)

	deps := intake.SupervisorDeps{
		Pipeline: pipeline,
		Groups:   groups,
		Identity: resolver,
		Stats:    store,
		Logger:   log.Component(logger, "intake"),
	}
	if cfg.Telegram.APIID != 0 {
		var storage session.Storage = mtproto.NewSessionDB(store, cfg.MTProto.SessionName)
		if cfg.MTProto.SessionFile != "" {
			storage = &session.FileStorage{Path: cfg.MTProto.SessionFile}
		}
		client := mtproto.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, storage, log.Component(logger, "mtproto"))
		deps.Roster = client
		deps.History = client
	} else {
		logger.Warn().Msg("bot: TG_API_ID не задан, состав групп и история недоступны")
	}
	supervisor := intake.NewSupervisor(deps, intake.SupervisorConfig{
		BackfillHours: cfg.Backfill.Hours,
		BackfillLimit: cfg.Backfill.Limit,
	})

	if queue.IsLocal(backfillQueue) {
		backfiller := identity.NewBackfiller(backfillQueue, store, log.Component(logger, "identity"))
		go func() {
			if err := backfiller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("bot: догрузка идентификаторов остановлена")
			}
		}()
	}

	review := digest.NewService(store, store, store, sender, cfg.Telegram.AdminChatID, cfg.Location(), log.Component(logger, "digest"))
	clusters := cluster.NewService(store, normalizer, 0)
	commands := bot.NewHandler(sender, review, clusters, store, cfg.Telegram.AdminChatID, log.Component(logger, "bot"))
	transport := telegram.NewTransport(botAPI, commands, log.Component(logger, "telegram"))

	logger.Info().Str("store", cfg.Store).Msg("bot: запущен")
	if err := supervisor.Run(ctx, transport); err != nil {
		logger.Error().Err(err).Msg("bot: транспорт остановлен")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("bot: остановка")
}
