package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/docindex/internal/app"
	"github.com/markdave123-py/docindex/internal/config"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := app.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	logger.Info().
		Str("vector_backend", cfg.VectorBackend).
		Str("registry", cfg.RegistryBackend).
		Str("embed_provider", cfg.EmbedProvider).
		Msg("worker is running")

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		application.Close()
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}
