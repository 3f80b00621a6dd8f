package rpc

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type fakeBackend struct {
	mu      sync.Mutex
	logs    []types.Log
	err     error
	head    uint64
	times   map[uint64]uint64
	calls   int
	queries []ethereum.FilterQuery
	block   chan struct{}
	closed  bool
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	f.calls++
	f.queries = append(f.queries, q)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.logs, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.head, f.err
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ts, ok := f.times[number.Uint64()]
	if !ok {
		return nil, nil
	}
	return &types.Header{Number: number, Time: ts}, nil
}

func (f *fakeBackend) Close() { f.closed = true }

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newSource(t *testing.T, opts Options, backends ...*fakeBackend) *LogSource {
	t.Helper()
	endpoints := make([]*Endpoint, len(backends))
	for i, b := range backends {
		endpoints[i] = NewEndpoint("https://rpc"+string(rune('a'+i))+".example/v1/secret-key", b, 0, 0)
	}
	src, err := New(endpoints, opts, testLogger())
	require.NoError(t, err)
	return src
}

func TestFetchLogsReturnsFirstEndpointResult(t *testing.T) {
	primary := &fakeBackend{logs: []types.Log{{BlockNumber: 5}}}
	secondary := &fakeBackend{}
	src := newSource(t, Options{}, primary, secondary)

	logs, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 0, secondary.callCount())

	q := primary.queries[0]
	assert.Equal(t, uint64(1), q.FromBlock.Uint64())
	assert.Equal(t, uint64(10), q.ToBlock.Uint64())
	assert.Equal(t, []common.Address{contract}, q.Addresses)
}

func TestFetchLogsEmptyIsNotAnError(t *testing.T) {
	src := newSource(t, Options{}, &fakeBackend{})

	logs, err := src.FetchLogs(context.Background(), contract, nil, 1, 1)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestFetchLogsFailsOverOnRateLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limited := &fakeBackend{err: errors.New("query returned more than 10000 results: limit exceeded")}
	healthy := &fakeBackend{logs: []types.Log{{BlockNumber: 7}}}
	src := newSource(t, Options{RateLimitCooldown: time.Minute, Now: func() time.Time { return now }}, limited, healthy)

	logs, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(7), logs[0].BlockNumber)

	status := src.Status()
	assert.Equal(t, uint64(0), status[0].Failures, "rate limit must not count as failure")
	assert.Equal(t, uint64(1), status[0].RateLimits)
	assert.Equal(t, now.Add(time.Minute), status[0].RateLimitedUntil)
	assert.Equal(t, uint64(1), status[1].Successes)

	// While cooling down the limited endpoint is tried last.
	_, err = src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.callCount())
	assert.Equal(t, 2, healthy.callCount())
}

func TestFetchLogsDetectsHTTP429(t *testing.T) {
	limited := &fakeBackend{err: gethrpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}}
	healthy := &fakeBackend{}
	src := newSource(t, Options{}, limited, healthy)

	_, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), src.Status()[0].RateLimits)
}

func TestFetchLogsCountsOtherFailures(t *testing.T) {
	broken := &fakeBackend{err: errors.New("connection refused")}
	healthy := &fakeBackend{}
	src := newSource(t, Options{}, broken, healthy)

	_, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.NoError(t, err)

	status := src.Status()
	assert.Equal(t, uint64(1), status[0].Failures)
	assert.Equal(t, "connection refused", status[0].LastError)
	assert.True(t, status[0].RateLimitedUntil.IsZero())
}

func TestFetchLogsAllEndpointsFail(t *testing.T) {
	a := &fakeBackend{err: errors.New("connection refused")}
	b := &fakeBackend{err: errors.New("too many requests")}
	src := newSource(t, Options{}, a, b)

	_, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, 1, a.callCount(), "each endpoint is tried once per call")
	assert.Equal(t, 1, b.callCount())
}

func TestFetchLogsTimeoutIsTransient(t *testing.T) {
	slow := &fakeBackend{block: make(chan struct{})}
	src := newSource(t, Options{RequestTimeout: 20 * time.Millisecond}, slow)

	_, err := src.FetchLogs(context.Background(), contract, nil, 1, 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorContains(t, err, "timed out")
	assert.Equal(t, uint64(1), src.Status()[0].Failures)
}

func TestFetchLogsRejectsWideRange(t *testing.T) {
	backend := &fakeBackend{}
	src := newSource(t, Options{MaxBlockRange: 100}, backend)

	_, err := src.FetchLogs(context.Background(), contract, nil, 1, 101)
	assert.ErrorIs(t, err, ErrRangeTooWide)
	assert.Equal(t, 0, backend.callCount())

	_, err = src.FetchLogs(context.Background(), contract, nil, 1, 100)
	assert.NoError(t, err)
}

func TestBlockTimeIsCached(t *testing.T) {
	backend := &fakeBackend{times: map[uint64]uint64{42: 1_700_000_000}}
	src := newSource(t, Options{}, backend)

	ts, err := src.BlockTime(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), ts)

	_, err = src.BlockTime(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount())

	_, err = src.BlockTime(context.Background(), 43)
	assert.Error(t, err)
}

func TestStatusRedactsURLs(t *testing.T) {
	src := newSource(t, Options{}, &fakeBackend{}, &fakeBackend{})
	status := src.Status()
	assert.Equal(t, "https://rpca.example", status[0].Name)
	assert.NotContains(t, status[1].Name, "secret")
}

func TestDuplicateEndpointNamesAreLabelled(t *testing.T) {
	a := NewEndpoint("https://rpc.example/v1/key-a", &fakeBackend{}, 0, 0)
	b := NewEndpoint("https://rpc.example/v1/key-b", &fakeBackend{}, 0, 0)

	src, err := New([]*Endpoint{a, b}, Options{}, testLogger())
	require.NoError(t, err)
	status := src.Status()
	assert.Equal(t, "https://rpc.example", status[0].Name)
	assert.Equal(t, "https://rpc.example#2", status[1].Name)

	_, err = New([]*Endpoint{b}, Options{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example", b.Name(), "endpoint is not renamed")
}

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		size     uint64
		want     [][2]uint64
	}{
		{"single", 10, 10, 5, [][2]uint64{{10, 10}}},
		{"exact", 1, 10, 5, [][2]uint64{{1, 5}, {6, 10}}},
		{"remainder", 1, 12, 5, [][2]uint64{{1, 5}, {6, 10}, {11, 12}}},
		{"inverted", 5, 1, 5, nil},
		{"zero size", 1, 5, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkRange(tt.from, tt.to, tt.size))
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	markers := []string{"limit exceeded", "rate limit", "too many requests", "429"}
	assert.True(t, isRateLimited(errors.New("Rate Limit reached"), markers))
	assert.True(t, isRateLimited(gethrpc.HTTPError{StatusCode: 429}, nil))
	assert.False(t, isRateLimited(errors.New("execution reverted"), markers))
	assert.False(t, isRateLimited(nil, markers))
}
