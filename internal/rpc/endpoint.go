package rpc

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Endpoint is one RPC node with its client-side limits and health record.
type Endpoint struct {
	url     string
	name    string
	backend Backend
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu     sync.Mutex
	health health
}

type health struct {
	successes        uint64
	failures         uint64
	rateLimits       uint64
	lastError        string
	lastErrorAt      time.Time
	lastSuccessAt    time.Time
	rateLimitedUntil time.Time
}

// EndpointStatus is a point-in-time copy of an endpoint's health.
type EndpointStatus struct {
	Name             string    `json:"name"`
	Successes        uint64    `json:"successes"`
	Failures         uint64    `json:"failures"`
	RateLimits       uint64    `json:"rate_limits"`
	LastError        string    `json:"last_error,omitempty"`
	LastErrorAt      time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt    time.Time `json:"last_success_at,omitempty"`
	RateLimitedUntil time.Time `json:"rate_limited_until,omitempty"`
}

// NewEndpoint wraps a backend. requestsPerSecond <= 0 disables the request
// limiter and maxConcurrent <= 0 disables the in-flight bound.
func NewEndpoint(rawURL string, backend Backend, requestsPerSecond float64, maxConcurrent int64) *Endpoint {
	ep := &Endpoint{
		url:     rawURL,
		name:    redactURL(rawURL),
		backend: backend,
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		ep.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	if maxConcurrent > 0 {
		ep.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return ep
}

// Name is the endpoint URL without credentials, path or query.
func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) acquire(ctx context.Context) (release func(), err error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if e.sem == nil {
		return func() {}, nil
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}

func (e *Endpoint) coolingDown(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Before(e.health.rateLimitedUntil)
}

func (e *Endpoint) recordSuccess(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.successes++
	e.health.lastSuccessAt = now
}

func (e *Endpoint) recordFailure(err error, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.failures++
	e.health.lastError = err.Error()
	e.health.lastErrorAt = now
}

// recordRateLimit parks the endpoint without counting a failure.
func (e *Endpoint) recordRateLimit(err error, now time.Time, cooldown time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.rateLimits++
	e.health.lastError = err.Error()
	e.health.lastErrorAt = now
	e.health.rateLimitedUntil = now.Add(cooldown)
}

func (e *Endpoint) Status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		Name:             e.name,
		Successes:        e.health.successes,
		Failures:         e.health.failures,
		RateLimits:       e.health.rateLimits,
		LastError:        e.health.lastError,
		LastErrorAt:      e.health.lastErrorAt,
		LastSuccessAt:    e.health.lastSuccessAt,
		RateLimitedUntil: e.health.rateLimitedUntil,
	}
}

// redactURL strips credentials, path and query from an endpoint URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "endpoint"
	}
	return u.Scheme + "://" + u.Host
}
