package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"ride-match-bot/internal/adapters/httpapi"
	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/adapters/telegram"
	"ride-match-bot/internal/infra/config"
	httpinfra "ride-match-bot/internal/infra/http"
	"ride-match-bot/internal/infra/log"
	"ride-match-bot/internal/infra/metrics"
	"ride-match-bot/internal/usecase/cluster"
	"ride-match-bot/internal/usecase/digest"
	"ride-match-bot/internal/usecase/location"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repo.Open(ctx, cfg.Store, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось открыть хранилище")
	}
	defer closeStore()

	if cfg.API.Token == "" {
		logger.Warn().Msg("api: API_TOKEN не задан, все запросы к /api будут отклонены")
	}

	var review httpapi.ReviewSender
	if cfg.Telegram.Token != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось создать бота")
		}
		review = digest.NewService(store, store, store, telegram.NewSender(botAPI), cfg.Telegram.AdminChatID, cfg.Location(), log.Component(logger, "digest"))
	}

	handler := httpapi.NewHandler(cluster.NewService(store, location.New(), 0), store, store, review, log.Component(logger, "api"))

	server := httpinfra.NewServer(logger)
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.BearerAuth(cfg.API.Token))
		handler.Routes(protected)
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки сервера")
	}
}
