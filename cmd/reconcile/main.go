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

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/reconciler"
)

// reconcile rebuilds volume buckets once, for an explicit range or the
// configured lookback.
func main() {
	var (
		configPath  string
		from        string
		to          string
		granularity time.Duration
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&from, "from", "", "Range start, RFC 3339 (default: now minus lookback)")
	flag.StringVar(&to, "to", "", "Range end, RFC 3339 (default: end of the current bucket)")
	flag.DurationVar(&granularity, "granularity", 0, "Bucket size (default: reconciler.granularity)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if granularity > 0 {
		cfg.Reconciler.Granularity = granularity
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()

	window, err := resolveWindow(time.Now(), from, to, cfg.Reconciler)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid range")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.UseTradeTimeColumn(ctx, cfg.Database.TradeTimeColumns); err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve trades timestamp column")
	}

	res, err := reconciler.NewJob(db, cfg.Reconciler, nil, logger).Run(ctx, window)
	if err != nil {
		logger.Fatal().Err(err).Msg("Reconciliation failed")
	}
	logger.Info().
		Int64("backfilled", res.Backfilled).
		Int("buckets", res.Buckets).
		Msg("Reconciliation finished")
}

func resolveWindow(now time.Time, from, to string, cfg config.ReconcilerConfig) (reconciler.Window, error) {
	w := reconciler.LookbackWindow(now, cfg.Lookback, cfg.Granularity)
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return w, fmt.Errorf("invalid -to: %w", err)
		}
		w.To = t.UTC()
	}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return w, fmt.Errorf("invalid -from: %w", err)
		}
		w.From = t.UTC()
	}
	w = w.Aligned()
	if !w.From.Before(w.To) {
		return w, fmt.Errorf("range start %s is not before end %s", w.From, w.To)
	}
	return w, nil
}
