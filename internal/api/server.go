package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/database"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/metrics"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/rpc"
	"github.com/Ra1nbowF/dex-onchain-analytics-sub001/internal/scheduler"
)

const maxBuckets = 10000

type Store interface {
	Ping(ctx context.Context) error
	ListCursors(ctx context.Context) ([]database.Cursor, error)
	CountActivityByKind(ctx context.Context) ([]database.ActivityCount, error)
	RecentActivity(ctx context.Context, poolAddress string, limit, offset int) ([]database.ActivityRecord, error)
	VolumeBuckets(ctx context.Context, granularity time.Duration, from, to time.Time) ([]database.VolumeBucket, error)
}

// EndpointReporter exposes RPC endpoint health.
type EndpointReporter interface {
	Status() []rpc.EndpointStatus
}

// PoolReporter exposes per-pool poller liveness.
type PoolReporter interface {
	Statuses() []scheduler.PoolStatus
}

type Options struct {
	// Granularity and Window are the /volume defaults.
	Granularity time.Duration
	Window      time.Duration
	// DegradedAfter is the number of consecutive failed cycles that marks a pool degraded.
	DegradedAfter int
}

type APIServer struct {
	mux       *http.ServeMux
	store     Store
	endpoints EndpointReporter
	pools     PoolReporter
	metrics   *metrics.Metrics
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAPIServer(store Store, endpoints EndpointReporter, pools PoolReporter, m *metrics.Metrics, opts Options, logger zerolog.Logger) *APIServer {
	if opts.Granularity <= 0 {
		opts.Granularity = time.Hour
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = 3
	}
	s := &APIServer{
		mux:       http.NewServeMux(),
		store:     store,
		endpoints: endpoints,
		pools:     pools,
		metrics:   m,
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *APIServer) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

func (s *APIServer) Start(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Starting API server")
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server...")
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/volume", s.handleVolume)
	s.mux.HandleFunc("/activity", s.handleActivity)
	s.mux.Handle("/metrics", s.metrics.Handler())
}

func (s *APIServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}

type statusResponse struct {
	Time      time.Time                `json:"time"`
	Endpoints []rpc.EndpointStatus     `json:"endpoints"`
	Pools     []scheduler.PoolStatus   `json:"pools"`
	Cursors   []database.Cursor        `json:"cursors"`
	Activity  []database.ActivityCount `json:"activity"`
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		Time:      s.now().UTC(),
		Endpoints: []rpc.EndpointStatus{},
		Pools:     []scheduler.PoolStatus{},
	}
	if s.endpoints != nil {
		resp.Endpoints = s.endpoints.Status()
	}
	if s.pools != nil {
		resp.Pools = s.pools.Statuses()
	}

	var err error
	if resp.Cursors, err = s.store.ListCursors(ctx); err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.Activity, err = s.store.CountActivityByKind(ctx); err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, resp, nil)
}

type bucketDTO struct {
	BucketStart   time.Time        `json:"bucket_start"`
	BuyVolumeUSD  decimal.Decimal  `json:"buy_volume_usd"`
	SellVolumeUSD decimal.Decimal  `json:"sell_volume_usd"`
	TotalUSD      decimal.Decimal  `json:"total_volume_usd"`
	BuyShare      *decimal.Decimal `json:"buy_share"`
}

type volumeResponse struct {
	Granularity string      `json:"granularity"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Buckets     []bucketDTO `json:"buckets"`
}

// handleVolume serves stored buckets. from and to are RFC 3339 times and
// default to the configured window ending after the current bucket.
func (s *APIServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	granularity := s.opts.Granularity
	if v := q.Get("granularity"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Second {
			badRequest(w, fmt.Sprintf("invalid granularity %q", v))
			return
		}
		granularity = d
	}

	to := s.now().UTC().Truncate(granularity).Add(granularity)
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid to %q", v))
			return
		}
		to = t.UTC()
	}
	from := to.Add(-s.opts.Window)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, fmt.Sprintf("invalid from %q", v))
			return
		}
		from = t.UTC()
	}
	if !from.Before(to) {
		badRequest(w, "from must be before to")
		return
	}
	if to.Sub(from)/granularity > maxBuckets {
		badRequest(w, fmt.Sprintf("range spans more than %d buckets", maxBuckets))
		return
	}

	buckets, err := s.store.VolumeBuckets(r.Context(), granularity, from, to)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := volumeResponse{
		Granularity: granularity.String(),
		From:        from,
		To:          to,
		Buckets:     make([]bucketDTO, 0, len(buckets)),
	}
	for _, b := range buckets {
		dto := bucketDTO{
			BucketStart:   b.BucketStart.UTC(),
			BuyVolumeUSD:  b.BuyVolumeUSD,
			SellVolumeUSD: b.SellVolumeUSD,
			TotalUSD:      b.Total(),
		}
		if share, ok := b.BuyShare(); ok {
			share = share.Round(6)
			dto.BuyShare = &share
		}
		resp.Buckets = append(resp.Buckets, dto)
	}
	JSON(w, http.StatusOK, resp, nil)
}

type activityDTO struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	Kind        string          `json:"kind"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	LPAmount    decimal.Decimal `json:"lp_amount"`
	Timestamp   time.Time       `json:"timestamp"`
	PoolName    string          `json:"pool_name,omitempty"`
	PoolVersion string          `json:"pool_version"`
	PoolAddress string          `json:"pool_address"`
}

func (s *APIServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	pool := r.URL.Query().Get("pool")
	if !common.IsHexAddress(pool) {
		badRequest(w, "pool must be a hex address")
		return
	}
	limit, offset, pg := parsePagination(r)

	rows, err := s.store.RecentActivity(r.Context(), strings.ToLower(pool), limit, offset)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) > pg.PerPage {
		pg.HasNext = true
		rows = rows[:pg.PerPage]
	}

	items := make([]activityDTO, 0, len(rows))
	for _, rec := range rows {
		items = append(items, activityDTO{
			TxHash:      rec.TxHash,
			BlockNumber: rec.BlockNumber,
			LogIndex:    rec.LogIndex,
			Kind:        rec.TransferKind,
			From:        rec.FromAddress,
			To:          rec.ToAddress,
			LPAmount:    rec.LPAmount,
			Timestamp:   rec.Timestamp,
			PoolName:    rec.PoolName,
			PoolVersion: rec.PoolVersion,
			PoolAddress: rec.PoolAddress,
		})
	}
	JSON(w, http.StatusOK, items, &pg)
}
