package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/internal/server"
	"github.com/breedhub/bhit-node/pkg/config"
	"github.com/breedhub/bhit-node/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.Parse(cfg.Log.Level))
	slog.SetDefault(logger)

	db, err := repo.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, db)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
