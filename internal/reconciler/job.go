package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
)

type Store interface {
	TradesMissingVolume(ctx context.Context, from, to time.Time, limit int) ([]database.Trade, error)
	SetTradeVolumes(ctx context.Context, volumes map[string]decimal.Decimal) (int64, error)
	TradesInRange(ctx context.Context, from, to time.Time) ([]database.Trade, error)
	UpsertVolumeBuckets(ctx context.Context, buckets []database.VolumeBucket) error
}

type Result struct {
	Backfilled int64
	Buckets    int
}

// Job backfills missing trade volumes and rebuilds volume buckets.
type Job struct {
	store   Store
	cfg     config.ReconcilerConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewJob(store Store, cfg config.ReconcilerConfig, m *metrics.Metrics, logger zerolog.Logger) *Job {
	if cfg.BackfillBatchSize <= 0 {
		cfg.BackfillBatchSize = 500
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = time.Hour
	}
	return &Job{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		now:     time.Now,
	}
}

// RunLookback reconciles the configured lookback window ending now.
func (j *Job) RunLookback(ctx context.Context) (Result, error) {
	return j.Run(ctx, LookbackWindow(j.now(), j.cfg.Lookback, j.cfg.Granularity))
}

// Run fills volume_usd where it is NULL, then recomputes and upserts every
// bucket of the window. The window is widened to whole buckets first so a
// partial range never overwrites a bucket with a subset of its trades.
// Running it twice over unchanged trades converges.
func (j *Job) Run(ctx context.Context, w Window) (Result, error) {
	start := time.Now()
	w = w.Aligned()
	var res Result

	backfilled, err := j.backfill(ctx, w)
	res.Backfilled = backfilled
	if err != nil {
		j.metrics.Reconciled("error", backfilled, 0)
		return res, err
	}

	trades, err := j.store.TradesInRange(ctx, w.From, w.To)
	if err != nil {
		j.metrics.Reconciled("error", backfilled, 0)
		return res, fmt.Errorf("load trades: %w", err)
	}

	buckets := Reconcile(trades, w)
	if err := j.store.UpsertVolumeBuckets(ctx, buckets); err != nil {
		j.metrics.Reconciled("error", backfilled, 0)
		return res, fmt.Errorf("upsert volume buckets: %w", err)
	}
	res.Buckets = len(buckets)
	j.metrics.Reconciled("ok", backfilled, len(buckets))

	j.logger.Info().
		Time("from", w.From).
		Time("to", w.To).
		Dur("granularity", w.Granularity).
		Int("trades", len(trades)).
		Int64("backfilled", backfilled).
		Int("buckets", len(buckets)).
		Dur("duration", time.Since(start)).
		Msg("Volume reconciliation completed")
	return res, nil
}

func (j *Job) backfill(ctx context.Context, w Window) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := j.store.TradesMissingVolume(ctx, w.From, w.To, j.cfg.BackfillBatchSize)
		if err != nil {
			return total, fmt.Errorf("load trades missing volume: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		volumes := make(map[string]decimal.Decimal, len(batch))
		for _, t := range batch {
			volumes[t.ID] = NormalizedVolume(t)
		}
		updated, err := j.store.SetTradeVolumes(ctx, volumes)
		total += updated
		if err != nil {
			return total, fmt.Errorf("set trade volumes: %w", err)
		}

		j.logger.Debug().Int("batch", len(batch)).Int64("updated", updated).Msg("Backfilled trade volumes")

		if len(batch) < j.cfg.BackfillBatchSize || updated == 0 {
			return total, nil
		}
	}
}
