package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultMaxBlockRange  = 2000
	defaultCooldown       = 30 * time.Second
	defaultCacheSize      = 4096
)

var defaultRateLimitMarkers = []string{"limit exceeded", "rate limit", "too many requests", "429"}

type Options struct {
	RequestTimeout    time.Duration
	MaxBlockRange     uint64
	RateLimitCooldown time.Duration
	RateLimitMarkers  []string
	BlockCacheSize    int
	Metrics           *metrics.Metrics
	// Now is the clock used for cooldowns; time.Now when nil.
	Now func() time.Time
}

// LogSource fetches logs over an ordered list of endpoints. Every call tries
// each endpoint at most once, in order, and returns as soon as one answers.
// Endpoints cooling down after a rate limit are tried last.
type LogSource struct {
	endpoints []*Endpoint
	labels    map[*Endpoint]string
	opts      Options
	blockTime *lru.Cache
	logger    zerolog.Logger
}

func New(endpoints []*Endpoint, opts Options, logger zerolog.Logger) (*LogSource, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxBlockRange == 0 {
		opts.MaxBlockRange = defaultMaxBlockRange
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = defaultCooldown
	}
	if len(opts.RateLimitMarkers) == 0 {
		opts.RateLimitMarkers = defaultRateLimitMarkers
	}
	if opts.BlockCacheSize <= 0 {
		opts.BlockCacheSize = defaultCacheSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cache, err := lru.New(opts.BlockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create block time cache: %w", err)
	}

	// Endpoints sharing a host get a #n suffix in status and metrics.
	labels := make(map[*Endpoint]string, len(endpoints))
	seen := make(map[string]int)
	for _, ep := range endpoints {
		seen[ep.name]++
		labels[ep] = ep.name
		if n := seen[ep.name]; n > 1 {
			labels[ep] = fmt.Sprintf("%s#%d", ep.name, n)
		}
	}

	return &LogSource{
		endpoints: endpoints,
		labels:    labels,
		opts:      opts,
		blockTime: cache,
		logger:    logger.With().Str("component", "log-source").Logger(),
	}, nil
}

// Dial connects every configured endpoint and builds a LogSource over them.
func Dial(cfg config.ChainConfig, m *metrics.Metrics, logger zerolog.Logger) (*LogSource, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, epCfg := range cfg.Endpoints {
		backend, err := DialBackend(epCfg.URL, timeout)
		if err != nil {
			for _, ep := range endpoints {
				ep.backend.Close()
			}
			return nil, fmt.Errorf("endpoint %s: %w", redactURL(epCfg.URL), err)
		}
		ep := NewEndpoint(epCfg.URL, backend, epCfg.RequestsPerSecond, epCfg.MaxConcurrent)
		endpoints = append(endpoints, ep)
		logger.Info().Str("endpoint", ep.Name()).Msg("Configured RPC endpoint")
	}

	return New(endpoints, Options{
		RequestTimeout:    timeout,
		MaxBlockRange:     cfg.MaxBlockRange,
		RateLimitCooldown: cfg.RateLimitCooldown,
		RateLimitMarkers:  cfg.RateLimitMarkers,
		BlockCacheSize:    cfg.BlockTimeCacheSize,
		Metrics:           m,
	}, logger)
}

func (s *LogSource) Close() {
	for _, ep := range s.endpoints {
		ep.backend.Close()
	}
	s.logger.Info().Msg("RPC endpoints closed")
}

func (s *LogSource) MaxBlockRange() uint64 { return s.opts.MaxBlockRange }

// Status returns the health of every endpoint in configured order.
func (s *LogSource) Status() []EndpointStatus {
	out := make([]EndpointStatus, len(s.endpoints))
	for i, ep := range s.endpoints {
		out[i] = ep.Status()
		out[i].Name = s.labels[ep]
	}
	return out
}

// FetchLogs returns the logs emitted by contract in [from, to] matching
// topics. An empty result is an empty slice. Ranges wider than the configured
// maximum fail with ErrRangeTooWide; when every endpoint fails the error is a
// *TransientError.
func (s *LogSource) FetchLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range: from %d > to %d", from, to)
	}
	if to-from+1 > s.opts.MaxBlockRange {
		return nil, fmt.Errorf("%w: %d blocks requested, max %d", ErrRangeTooWide, to-from+1, s.opts.MaxBlockRange)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    topics,
	}

	var logs []types.Log
	err := s.call(ctx, "eth_getLogs", func(ctx context.Context, b Backend) error {
		result, err := b.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []types.Log{}
	}

	s.logger.Debug().
		Str("contract", contract.Hex()).
		Uint64("from", from).
		Uint64("to", to).
		Int("logs", len(logs)).
		Msg("Fetched logs")
	return logs, nil
}

func (s *LogSource) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := s.call(ctx, "eth_blockNumber", func(ctx context.Context, b Backend) error {
		n, err := b.BlockNumber(ctx)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// BlockTime returns the timestamp of a block. Results are cached; block
// timestamps never change once a block is final.
func (s *LogSource) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	if v, ok := s.blockTime.Get(number); ok {
		return v.(time.Time), nil
	}

	var ts time.Time
	err := s.call(ctx, "eth_getBlockByNumber", func(ctx context.Context, b Backend) error {
		header, err := b.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("block %d not found", number)
		}
		ts = time.Unix(int64(header.Time), 0).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	s.blockTime.Add(number, ts)
	return ts, nil
}

// call runs fn against each endpoint in order until one succeeds.
func (s *LogSource) call(ctx context.Context, method string, fn func(context.Context, Backend) error) error {
	var (
		lastErr  error
		attempts int
	)

	for i, ep := range s.order() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			s.opts.Metrics.Failover()
		}
		attempts++

		start := s.opts.Now()
		err := s.attempt(ctx, ep, fn)
		elapsed := s.opts.Now().Sub(start)

		if err == nil {
			ep.recordSuccess(s.opts.Now())
			s.opts.Metrics.ObserveRPC(s.labels[ep], method, elapsed, nil, false)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if isRateLimited(err, s.opts.RateLimitMarkers) {
			ep.recordRateLimit(err, s.opts.Now(), s.opts.RateLimitCooldown)
			s.opts.Metrics.ObserveRPC(s.labels[ep], method, elapsed, err, true)
			s.logger.Warn().
				Str("endpoint", s.labels[ep]).
				Str("method", method).
				Dur("cooldown", s.opts.RateLimitCooldown).
				Err(err).
				Msg("Endpoint rate limited, failing over")
			continue
		}

		ep.recordFailure(err, s.opts.Now())
		s.opts.Metrics.ObserveRPC(s.labels[ep], method, elapsed, err, false)
		s.logger.Warn().
			Str("endpoint", s.labels[ep]).
			Str("method", method).
			Err(err).
			Msg("RPC request failed, trying next endpoint")
	}

	return &TransientError{Method: method, Attempts: attempts, Err: lastErr}
}

func (s *LogSource) attempt(ctx context.Context, ep *Endpoint, fn func(context.Context, Backend) error) error {
	reqCtx, cancel := withTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	release, err := ep.acquire(reqCtx)
	if err != nil {
		return fmt.Errorf("waiting for endpoint slot: %w", err)
	}
	defer release()

	err = fn(reqCtx, ep.backend)
	if err != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("request timed out after %s: %w", s.opts.RequestTimeout, err)
	}
	return err
}

// order returns ready endpoints first, then those still cooling down, each
// group keeping configured order.
func (s *LogSource) order() []*Endpoint {
	now := s.opts.Now()
	ready := make([]*Endpoint, 0, len(s.endpoints))
	var cooling []*Endpoint
	for _, ep := range s.endpoints {
		if ep.coolingDown(now) {
			cooling = append(cooling, ep)
			continue
		}
		ready = append(ready, ep)
	}
	return append(ready, cooling...)
}

// ChunkRange splits [from, to] into consecutive sub-ranges of at most size blocks.
func ChunkRange(from, to, size uint64) [][2]uint64 {
	if to < from || size == 0 {
		return nil
	}
	var chunks [][2]uint64
	for start := from; start <= to; {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		chunks = append(chunks, [2]uint64{start, end})
		if end == to {
			break
		}
		start = end + 1
	}
	return chunks
}
