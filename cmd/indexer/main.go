package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/api"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/reconciler"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/rpc"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/scheduler"
)

const version = "0.1.0"

func main() {
	var configPath string
	var role string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&role, "role", "both", "Role to run: api | worker | both")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("role", role).
		Int("pools", len(cfg.Pools)).
		Msg("Starting LP activity indexer")

	runWorker, runAPI := false, false
	switch role {
	case "api":
		runAPI = true
	case "worker":
		runWorker = true
	case "both":
		runWorker, runAPI = true, cfg.Server.Enabled
	default:
		logger.Fatal().Str("role", role).Msg("invalid role, use api|worker|both")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	defer db.Close()

	if err := db.UseTradeTimeColumn(ctx, cfg.Database.TradeTimeColumns); err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve trades timestamp column")
	}

	m := metrics.New()

	source, err := rpc.Dial(cfg.Chain, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect RPC endpoints")
	}
	defer source.Close()

	job := reconciler.NewJob(db, cfg.Reconciler, m, logger)
	sched, err := scheduler.New(cfg, source, db, job, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		if err := sched.Start(gctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start scheduler")
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if runAPI {
		server := api.NewAPIServer(db, source, sched, m, api.Options{
			Granularity: cfg.Reconciler.Granularity,
			Window:      cfg.Reconciler.Lookback,
		}, logger)
		g.Go(func() error {
			return server.Start(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Indexer stopped with error")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("Indexer shutdown complete")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
}
