package main

import (
	"context"
	"flag"
	"os"
	"time"

	"ride-match-bot/internal/adapters/mtproto"
	"ride-match-bot/internal/adapters/repo"
	"ride-match-bot/internal/infra/config"
	"ride-match-bot/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "Path to MTProto session file (gotd JSON or Telethon export)")
	flag.StringVar(&sessionName, "name", cfg.MTProto.SessionName, "Name of the MTProto session")
	flag.Parse()

	if filePath == "" {
		logger.Fatal().Msg("mtproto-importer: path to session file is required (-file)")
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to read session file")
	}
	data, converted, err := mtproto.NormalizeSession(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: unsupported MTProto session format")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Store == "memory" {
		logger.Fatal().Msg("mtproto-importer: STORE=memory не сохраняет сессию между процессами")
	}
	store, closeStore, err := repo.Open(ctx, cfg.Store, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to open store")
	}
	defer closeStore()

	if err := store.StoreMTProtoSession(ctx, sessionName, data); err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: failed to store session in database")
	}
	logger.Info().
		Str("name", sessionName).
		Int("bytes", len(data)).
		Bool("converted", converted).
		Msg("mtproto-importer: session stored")
}
