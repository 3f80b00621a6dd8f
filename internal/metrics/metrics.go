package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the indexer's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequests    *prometheus.CounterVec
	RPCFailures    *prometheus.CounterVec
	RPCRateLimited *prometheus.CounterVec
	RPCFailovers   prometheus.Counter
	RPCLatency     *prometheus.HistogramVec

	DecodeErrors   *prometheus.CounterVec
	RecordsWritten *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec
	CycleFailures  *prometheus.CounterVec
	PollerLag      *prometheus.GaugeVec

	ReconcileRuns     *prometheus.CounterVec
	VolumesBackfilled prometheus.Counter
	BucketsReconciled prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_rpc_requests_total",
			Help: "RPC requests sent, by endpoint and method",
		}, []string{"endpoint", "method"}),
		RPCFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_rpc_failures_total",
			Help: "RPC requests that failed for a reason other than rate limiting",
		}, []string{"endpoint", "method"}),
		RPCRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_rpc_rate_limited_total",
			Help: "RPC requests rejected by endpoint rate limits",
		}, []string{"endpoint"}),
		RPCFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lpwatch_rpc_failovers_total",
			Help: "Calls that moved on to a later endpoint",
		}),
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lpwatch_rpc_latency_seconds",
			Help:    "RPC request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_decode_errors_total",
			Help: "Logs skipped because they could not be decoded",
		}, []string{"pool"}),
		RecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_records_written_total",
			Help: "Upserts by table and result (inserted or duplicate)",
		}, []string{"table", "result"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lpwatch_poll_cycle_seconds",
			Help:    "Duration of a poll cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		CycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_poll_cycle_failures_total",
			Help: "Poll cycles that ended early",
		}, []string{"pool"}),
		PollerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lpwatch_poller_lag_blocks",
			Help: "Blocks between chain head and the pool cursor",
		}, []string{"pool"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lpwatch_reconcile_runs_total",
			Help: "Reconciler runs by outcome",
		}, []string{"outcome"}),
		VolumesBackfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lpwatch_trade_volumes_backfilled_total",
			Help: "Trades whose normalized volume was filled in",
		}),
		BucketsReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lpwatch_volume_buckets_reconciled_total",
			Help: "Volume buckets written by the reconciler",
		}),
	}

	m.registry.MustRegister(
		m.RPCRequests,
		m.RPCFailures,
		m.RPCRateLimited,
		m.RPCFailovers,
		m.RPCLatency,
		m.DecodeErrors,
		m.RecordsWritten,
		m.CycleDuration,
		m.CycleFailures,
		m.PollerLag,
		m.ReconcileRuns,
		m.VolumesBackfilled,
		m.BucketsReconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRPC(endpoint, method string, d time.Duration, err error, rateLimited bool) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(endpoint, method).Inc()
	m.RPCLatency.WithLabelValues(endpoint, method).Observe(d.Seconds())
	switch {
	case rateLimited:
		m.RPCRateLimited.WithLabelValues(endpoint).Inc()
	case err != nil:
		m.RPCFailures.WithLabelValues(endpoint, method).Inc()
	}
}

func (m *Metrics) Failover() {
	if m == nil {
		return
	}
	m.RPCFailovers.Inc()
}

func (m *Metrics) DecodeError(pool string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(pool).Inc()
}

func (m *Metrics) RecordWritten(table, result string) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(table, result).Inc()
}

func (m *Metrics) Cycle(pool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(pool).Observe(d.Seconds())
	if failed {
		m.CycleFailures.WithLabelValues(pool).Inc()
	}
}

func (m *Metrics) Lag(pool string, blocks uint64) {
	if m == nil {
		return
	}
	m.PollerLag.WithLabelValues(pool).Set(float64(blocks))
}

func (m *Metrics) Reconciled(outcome string, backfilled int64, buckets int) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(outcome).Inc()
	m.VolumesBackfilled.Add(float64(backfilled))
	m.BucketsReconciled.Add(float64(buckets))
}
