package api

import (
	"context"
	"net/http"
	"time"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  DatabaseStatus `json:"database"`
	RPC       RPCStatus      `json:"rpc"`
	// FailingPools lists pools whose recent cycles keep failing.
	FailingPools []string `json:"failing_pools,omitempty"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type RPCStatus struct {
	Endpoints int `json:"endpoints"`
	Available int `json:"available"`
}

// handleHealth answers 503 when the database is unreachable or every RPC
// endpoint is cooling down after a rate limit, and reports degraded when a
// pool has failed DegradedAfter cycles in a row.
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := s.healthStatus(ctx)
	httpStatus := http.StatusOK
	if status.Status == statusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status, nil)
}

func (s *APIServer) healthStatus(ctx context.Context) HealthStatus {
	now := s.now().UTC()
	status := HealthStatus{Status: statusHealthy, Timestamp: now}

	status.Database = DatabaseStatus{Connected: true}
	if err := s.store.Ping(ctx); err != nil {
		status.Database = DatabaseStatus{Connected: false, Error: err.Error()}
		status.Status = statusUnhealthy
	}

	if s.endpoints != nil {
		eps := s.endpoints.Status()
		status.RPC.Endpoints = len(eps)
		for _, ep := range eps {
			if !now.Before(ep.RateLimitedUntil) {
				status.RPC.Available++
			}
		}
		if status.RPC.Endpoints > 0 && status.RPC.Available == 0 {
			status.Status = statusUnhealthy
		}
	}

	if s.pools != nil {
		for _, p := range s.pools.Statuses() {
			if p.ConsecutiveFailures >= s.opts.DegradedAfter {
				status.FailingPools = append(status.FailingPools, p.Pool)
			}
		}
		if len(status.FailingPools) > 0 && status.Status == statusHealthy {
			status.Status = statusDegraded
		}
	}
	return status
}
