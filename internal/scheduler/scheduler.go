package scheduler

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/reconciler"
)

// Scheduler runs one poll job per pool and, when enabled, the volume
// reconciler, each on its own gocron interval.
type Scheduler struct {
	scheduler  gocron.Scheduler
	pollers    []*Poller
	reconciler *reconciler.Job
	reconCfg   config.ReconcilerConfig
	logger     zerolog.Logger
}

// New builds a poller for every valid pool. Invalid pools are logged and left
// unscheduled; the rest keep running.
func New(cfg *config.Config, source LogSource, store Store, job *reconciler.Job, m *metrics.Metrics, logger zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	sched := &Scheduler{
		scheduler:  s,
		reconciler: job,
		reconCfg:   cfg.Reconciler,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}

	seen := make(map[string]bool, len(cfg.Pools))
	for _, pool := range cfg.Pools {
		p, err := NewPoller(pool, cfg.Poller, source, store, m, logger)
		if err != nil {
			sched.logger.Error().Err(err).Str("pool", pool.Label()).Msg("Pool not scheduled")
			continue
		}
		if seen[p.key] {
			err := &config.ConfigurationError{Pool: pool.Label(), Field: "address", Reason: "duplicate pool"}
			sched.logger.Error().Err(err).Msg("Pool not scheduled")
			continue
		}
		seen[p.key] = true
		sched.pollers = append(sched.pollers, p)
	}

	return sched, nil
}

func (s *Scheduler) Pollers() []*Poller { return s.pollers }

// Start registers the jobs and runs each one immediately. A job still running
// when its next tick fires is rescheduled rather than run concurrently.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, p := range s.pollers {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(p.Interval()),
			gocron.NewTask(p.Run, ctx),
			gocron.WithName("poll-"+p.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule pool %s: %w", p.Name(), err)
		}
	}

	if s.reconciler != nil && s.reconCfg.Enabled {
		_, err := s.scheduler.NewJob(
			gocron.DurationJob(s.reconCfg.Interval),
			gocron.NewTask(s.reconcile, ctx),
			gocron.WithName("reconcile-volume"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule reconciler: %w", err)
		}
	}

	s.logger.Info().
		Int("pools", len(s.pollers)).
		Bool("reconciler", s.reconciler != nil && s.reconCfg.Enabled).
		Msg("Scheduler started")
	s.scheduler.Start()
	return nil
}

// Stop shuts gocron down, waiting for running cycles to return.
func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

// Statuses returns the liveness of every scheduled pool.
func (s *Scheduler) Statuses() []PoolStatus {
	out := make([]PoolStatus, 0, len(s.pollers))
	for _, p := range s.pollers {
		out = append(out, p.Status())
	}
	return out
}

func (s *Scheduler) reconcile(ctx context.Context) {
	if _, err := s.reconciler.RunLookback(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("Volume reconciliation failed")
	}
}
