package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
)

// Store is an in-memory stand-in for the Postgres store. It enforces the same
// unique keys with first-writer-wins semantics.
type Store struct {
	mu sync.Mutex

	Activity       map[string]database.ActivityRecord
	PositionEvents map[string]database.PositionEvent
	Trades         map[string]database.Trade
	Buckets        map[string]database.VolumeBucket
	Cursors        map[string]uint64

	// Fail, when set, is returned by every write.
	Fail error
	// PingErr is returned by Ping.
	PingErr error
}

func NewStore() *Store {
	return &Store{
		Activity:       map[string]database.ActivityRecord{},
		PositionEvents: map[string]database.PositionEvent{},
		Trades:         map[string]database.Trade{},
		Buckets:        map[string]database.VolumeBucket{},
		Cursors:        map[string]uint64{},
	}
}

func (s *Store) UpsertActivity(ctx context.Context, rec database.ActivityRecord) (database.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	key := rec.TxHash + "|" + rec.PoolAddress
	if _, ok := s.Activity[key]; ok {
		return database.DuplicateIgnored, nil
	}
	s.Activity[key] = rec
	return database.Inserted, nil
}

func (s *Store) UpsertPositionEvent(ctx context.Context, ev database.PositionEvent) (database.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	key := ev.TxHash + "|" + ev.PoolAddress + "|" + ev.EventType + "|" + ev.OwnerAddress
	if _, ok := s.PositionEvents[key]; ok {
		return database.DuplicateIgnored, nil
	}
	s.PositionEvents[key] = ev
	return database.Inserted, nil
}

func (s *Store) UpsertTrade(ctx context.Context, t database.Trade) (database.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	if _, ok := s.Trades[t.ID]; ok {
		return database.DuplicateIgnored, nil
	}
	s.Trades[t.ID] = t
	return database.Inserted, nil
}

func (s *Store) GetCursor(ctx context.Context, poolAddress string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.Cursors[poolAddress]
	if !ok {
		return 0, database.ErrNotFound
	}
	return last, nil
}

func (s *Store) AdvanceCursor(ctx context.Context, poolAddress string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if block > s.Cursors[poolAddress] {
		s.Cursors[poolAddress] = block
	}
	return nil
}

func (s *Store) ListCursors(ctx context.Context) ([]database.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.Cursor, 0, len(s.Cursors))
	for pool, last := range s.Cursors {
		out = append(out, database.Cursor{PoolAddress: pool, LastBlock: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolAddress < out[j].PoolAddress })
	return out, nil
}

func (s *Store) CountActivityByKind(ctx context.Context) ([]database.ActivityCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[[2]string]int64{}
	for _, rec := range s.Activity {
		counts[[2]string{rec.PoolAddress, rec.TransferKind}]++
	}
	out := make([]database.ActivityCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, database.ActivityCount{PoolAddress: k[0], TransferKind: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolAddress != out[j].PoolAddress {
			return out[i].PoolAddress < out[j].PoolAddress
		}
		return out[i].TransferKind < out[j].TransferKind
	})
	return out, nil
}

func (s *Store) TradesInRange(ctx context.Context, from, to time.Time) ([]database.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesWhere(func(t database.Trade) bool {
		return !t.TradedAt.Before(from) && t.TradedAt.Before(to)
	}, 0), nil
}

func (s *Store) TradesMissingVolume(ctx context.Context, from, to time.Time, limit int) ([]database.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesWhere(func(t database.Trade) bool {
		return t.VolumeUSD == nil && !t.TradedAt.Before(from) && t.TradedAt.Before(to)
	}, limit), nil
}

func (s *Store) tradesWhere(keep func(database.Trade) bool, limit int) []database.Trade {
	var out []database.Trade
	for _, t := range s.Trades {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TradedAt.Equal(out[j].TradedAt) {
			return out[i].TradedAt.Before(out[j].TradedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) SetTradeVolumes(ctx context.Context, volumes map[string]decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	var updated int64
	for id, v := range volumes {
		t, ok := s.Trades[id]
		if !ok || t.VolumeUSD != nil {
			continue
		}
		v := v
		t.VolumeUSD = &v
		s.Trades[id] = t
		updated++
	}
	return updated, nil
}

func bucketKey(granularity time.Duration, start time.Time) string {
	return fmt.Sprintf("%d|%d", int64(granularity/time.Second), start.Unix())
}

func (s *Store) UpsertVolumeBuckets(ctx context.Context, buckets []database.VolumeBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	for _, b := range buckets {
		s.Buckets[bucketKey(b.Granularity, b.BucketStart)] = b
	}
	return nil
}

func (s *Store) VolumeBuckets(ctx context.Context, granularity time.Duration, from, to time.Time) ([]database.VolumeBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.VolumeBucket
	for _, b := range s.Buckets {
		if b.Granularity == granularity && !b.BucketStart.Before(from) && b.BucketStart.Before(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.PingErr }

// ActivityRows returns stored activity ordered by block and log index.
func (s *Store) ActivityRows() []database.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.ActivityRecord, 0, len(s.Activity))
	for _, rec := range s.Activity {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}

func (s *Store) RecentActivity(ctx context.Context, poolAddress string, limit, offset int) ([]database.ActivityRecord, error) {
	rows := s.ActivityRows()
	var out []database.ActivityRecord
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].PoolAddress == poolAddress {
			out = append(out, rows[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
