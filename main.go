package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "botwatch/clients"
	"botwatch/config"
	"botwatch/internal/app"
	"botwatch/internal/storage"

	"go.uber.org/zap"
)

const (
	// loadTimeout is the maximum time to wait for stored settings
	loadTimeout = 30 * time.Second
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}
	return zcfg.Build()
}

func main() {
	// Load config from .env and environment variables
	envConfig := config.Load()

	logger, err := newLogger(envConfig.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting botwatch", zap.Bool("isProd", envConfig.IsProd))

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)

	openCtx, openCancel := context.WithTimeout(context.Background(), loadTimeout)
	db, err := storage.Open(openCtx, envConfig.Database.Path)
	openCancel()
	if err != nil {
		logger.Fatal("failed to open database", zap.String("path", envConfig.Database.Path), zap.Error(err))
	}
	defer db.Close()

	settingsManager := config.NewSettingsManager(logger, db, liveConfig)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
	cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
	loadCancel()
	if err != nil {
		logger.Warn("failed to load stored settings, using env/defaults", zap.Error(err))
	} else if cfg != nil {
		if err := liveConfig.Update(cfg); err != nil {
			logger.Warn("failed to apply stored settings", zap.Error(err))
		} else {
			logger.Info("settings loaded", zap.String("db", envConfig.Database.Path))
		}
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager, db)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
