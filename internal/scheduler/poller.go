package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/classifier"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/config"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/events"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/rpc"
)

// LogSource is the chain access a poller needs.
type LogSource interface {
	FetchLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	MaxBlockRange() uint64
}

// Store is the persistence a poller writes to.
type Store interface {
	GetCursor(ctx context.Context, poolAddress string) (uint64, error)
	AdvanceCursor(ctx context.Context, poolAddress string, block uint64) error
	UpsertActivity(ctx context.Context, rec database.ActivityRecord) (database.UpsertResult, error)
	UpsertPositionEvent(ctx context.Context, ev database.PositionEvent) (database.UpsertResult, error)
	UpsertTrade(ctx context.Context, t database.Trade) (database.UpsertResult, error)
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	From          uint64
	To            uint64
	Chunks        int
	Logs          int
	Inserted      int
	Duplicates    int
	DecodeErrors  int
	TradesWritten int
}

// PoolStatus is the liveness of one pool's poller.
type PoolStatus struct {
	Pool                string    `json:"pool"`
	Name                string    `json:"name"`
	Version             string    `json:"version"`
	LastBlock           uint64    `json:"last_block"`
	Head                uint64    `json:"head"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	DecodeErrors        uint64    `json:"decode_errors"`
}

// Poller fetches, decodes, classifies and persists the events of one pool.
type Poller struct {
	pool     config.PoolConfig
	meta     classifier.PoolMeta
	key      string
	topics   [][]common.Hash
	cfg      config.PollerConfig
	source   LogSource
	store    Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
	interval time.Duration

	mu     sync.Mutex
	status PoolStatus
}

func NewPoller(pool config.PoolConfig, cfg config.PollerConfig, source LogSource, store Store, m *metrics.Metrics, logger zerolog.Logger) (*Poller, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}

	addr := common.HexToAddress(pool.Address)
	version := pool.NormalizedVersion()
	key := database.AddressToString(addr)

	interval := pool.Interval
	if interval <= 0 {
		interval = cfg.Interval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if cfg.WindowBlocks <= cfg.OverlapBlocks {
		cfg.WindowBlocks = cfg.OverlapBlocks + 1
	}

	return &Poller{
		pool:     pool,
		meta:     classifier.PoolMeta{Address: addr, Name: pool.Name, Version: version},
		key:      key,
		topics:   events.TopicsForVersion(version),
		cfg:      cfg,
		source:   source,
		store:    store,
		metrics:  m,
		logger:   logger.With().Str("component", "poller").Str("pool", pool.Label()).Logger(),
		now:      time.Now,
		interval: interval,
		status:   PoolStatus{Pool: key, Name: pool.Name, Version: version},
	}, nil
}

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) Name() string { return p.pool.Label() }

func (p *Poller) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run executes one cycle and records its outcome. Errors end the cycle and
// are retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	start := time.Now()
	res, err := p.RunCycle(ctx)
	p.metrics.Cycle(p.key, time.Since(start), err != nil)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		status := p.recordFailure(err)
		p.logger.Error().
			Err(err).
			Bool("transient", rpc.IsTransient(err)).
			Int("consecutive_failures", status.ConsecutiveFailures).
			Uint64("from", res.From).
			Uint64("to", res.To).
			Msg("Poll cycle failed")
		return
	}
	p.recordSuccess()

	if res.Chunks == 0 {
		p.logger.Debug().Msg("Caught up with chain")
		return
	}
	p.logger.Info().
		Uint64("from", res.From).
		Uint64("to", res.To).
		Int("logs", res.Logs).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int("decode_errors", res.DecodeErrors).
		Int("trades", res.TradesWritten).
		Dur("duration", time.Since(start)).
		Msg("Poll cycle completed")
}

// RunCycle processes the next block window. Chunks are handled strictly in
// order and the cursor advances after each persisted chunk, so a failure
// leaves earlier chunks committed and nothing from later ones.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	head, err := p.source.BlockNumber(ctx)
	if err != nil {
		return res, fmt.Errorf("get head block: %w", err)
	}
	p.setHead(head)

	from, to, ok, err := p.window(ctx, head)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	res.From, res.To = from, to

	for _, chunk := range rpc.ChunkRange(from, to, p.source.MaxBlockRange()) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.processChunk(ctx, chunk[0], chunk[1], &res); err != nil {
			return res, err
		}
		res.Chunks++
	}
	return res, nil
}

// window returns the inclusive block range of the next cycle. Without a
// cursor the poller starts at start_block, or at the head when none is set.
func (p *Poller) window(ctx context.Context, head uint64) (from, to uint64, ok bool, err error) {
	cursor, err := p.store.GetCursor(ctx, p.key)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if p.cfg.StartBlock > 0 {
			from = p.cfg.StartBlock
		} else {
			from = subFloor(head+1, p.cfg.OverlapBlocks)
		}
	case err != nil:
		return 0, 0, false, fmt.Errorf("get cursor: %w", err)
	default:
		p.setLastBlock(cursor)
		if head > cursor {
			p.metrics.Lag(p.key, head-cursor)
		} else {
			p.metrics.Lag(p.key, 0)
		}
		from = subFloor(cursor+1, p.cfg.OverlapBlocks)
	}

	if from > head {
		return 0, 0, false, nil
	}
	to = head
	if p.cfg.WindowBlocks > 0 && to-from+1 > p.cfg.WindowBlocks {
		to = from + p.cfg.WindowBlocks - 1
	}
	return from, to, true, nil
}

func (p *Poller) processChunk(ctx context.Context, from, to uint64, res *CycleResult) error {
	logs, err := p.source.FetchLogs(ctx, p.meta.Address, p.topics, from, to)
	if err != nil {
		return fmt.Errorf("fetch logs %d-%d: %w", from, to, err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	for _, log := range logs {
		if log.Removed {
			continue
		}
		res.Logs++

		ev, err := events.DecodeLog(log, p.pool.TokenDecimals())
		if err != nil {
			var decodeErr *events.DecodeError
			if !errors.As(err, &decodeErr) {
				return err
			}
			res.DecodeErrors++
			p.recordDecodeError()
			p.logger.Warn().Err(err).Uint64("block", log.BlockNumber).Msg("Skipping undecodable log")
			continue
		}

		ts, err := p.source.BlockTime(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("get block %d time: %w", log.BlockNumber, err)
		}
		if err := p.persist(ctx, classifier.Classify(ev, p.meta), ts, res); err != nil {
			return err
		}
	}

	if err := p.store.AdvanceCursor(ctx, p.key, to); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", to, err)
	}
	p.setLastBlock(to)
	return nil
}

func (p *Poller) persist(ctx context.Context, ce classifier.ClassifiedEvent, ts time.Time, res *CycleResult) error {
	var (
		table  string
		result database.UpsertResult
		err    error
	)
	if rec, ok := ce.ActivityRecord(ts); ok {
		table = "lp_activity"
		result, err = p.store.UpsertActivity(ctx, rec)
	} else if row, ok := ce.PositionEvent(ts); ok {
		table = "v3_position_events"
		result, err = p.store.UpsertPositionEvent(ctx, row)
	} else {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist %s: %w", table, err)
	}
	p.count(table, result, res)

	if p.pool.USDToken == nil {
		return nil
	}
	trade, ok := ce.Trade(ts, *p.pool.USDToken, p.pool.StableDecimals())
	if !ok {
		return nil
	}
	result, err = p.store.UpsertTrade(ctx, trade)
	if err != nil {
		return fmt.Errorf("persist trade %s: %w", trade.ID, err)
	}
	p.metrics.RecordWritten("trades", result.String())
	if result == database.Inserted {
		res.TradesWritten++
	}
	return nil
}

func (p *Poller) count(table string, result database.UpsertResult, res *CycleResult) {
	p.metrics.RecordWritten(table, result.String())
	if result == database.Inserted {
		res.Inserted++
	} else {
		res.Duplicates++
	}
}

func (p *Poller) setHead(head uint64) {
	p.mu.Lock()
	p.status.Head = head
	p.mu.Unlock()
}

func (p *Poller) setLastBlock(block uint64) {
	p.mu.Lock()
	if block > p.status.LastBlock {
		p.status.LastBlock = block
	}
	p.mu.Unlock()
}

func (p *Poller) recordDecodeError() {
	p.metrics.DecodeError(p.key)
	p.mu.Lock()
	p.status.DecodeErrors++
	p.mu.Unlock()
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.ConsecutiveFailures = 0
	p.status.LastSuccess = p.now().UTC()
}

func (p *Poller) recordFailure(err error) PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.ConsecutiveFailures++
	p.status.LastError = strings.TrimSpace(err.Error())
	p.status.LastErrorAt = p.now().UTC()
	return p.status
}

func subFloor(v, d uint64) uint64 {
	if d >= v {
		return 0
	}
	return v - d
}
