package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solbot/config"
	"solbot/internal/api"
	"solbot/internal/engine"
	"solbot/internal/events"
	"solbot/internal/market"
	"solbot/internal/sentiment"
	"solbot/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	genConfig := flag.String("gen-config", "", "write a sample config file to this path and exit")
	flag.Parse()

	if *genConfig != "" {
		if err := config.GenerateSample(*genConfig); err != nil {
			log.Fatal().Err(err).Msg("failed to generate sample config")
		}
		log.Info().Str("path", *genConfig).Msg("sample config written")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := setupLogging(cfg.Logging)
	logger.Info().Bool("dry_run", cfg.Engine.DryRun).Strs("symbols", cfg.Engine.Symbols).Msg("starting solbot")

	ctx := context.Background()

	db, err := store.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	repo := store.NewRepository(db)

	// A dead Redis never blocks startup. The cache degrades and callers
	// fall through to the database.
	var cache *store.Cache
	if cfg.Redis.Enabled {
		cache, err = store.NewCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without cache")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	bus := events.NewBus()

	var provider market.Provider
	if cfg.Market.UseMock {
		logger.Info().Msg("using generated market data")
		provider = market.NewMockProvider()
	} else {
		provider = market.NewBinanceProvider(cfg.Market.Binance, logger)
	}

	var sentimentProvider sentiment.Provider
	if cfg.Sentiment.Enabled {
		fg := sentiment.NewFearGreedProvider(cfg.Sentiment, logger)
		fg.Start()
		defer fg.Stop()
		sentimentProvider = fg
	}

	eng, err := engine.New(engine.Options{
		Config:        cfg.Engine,
		IndicatorCfg:  cfg.Indicators,
		SignalCfg:     cfg.Signals,
		SizerCfg:      cfg.Sizing,
		MartingaleCfg: cfg.Martingale,
		PositionCfg:   cfg.Position,
		DrawdownCfg:   cfg.Drawdown,
		CorrCfg:       cfg.Correlation,
		HoursCfg:      cfg.Hours,
		Provider:      provider,
		Repo:          repo,
		Bus:           bus,
		Sentiment:     sentimentProvider,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build trading engine")
	}

	server := api.NewServer(cfg.Server, eng, repo, cache, bus, logger)
	go func() {
		if err := server.Run(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start trading engine")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	eng.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}
