package token

import (
	"sync"
	"time"
)

// State is the immutable view of the current OAuth credentials. It is only
// ever replaced wholesale by a successful refresh or code exchange, never
// partially updated.
type State struct {
	AccessToken   string
	RefreshToken  string
	APIHost       string
	ExpiresAt     time.Time
	LastRefreshAt time.Time
}

// Policy bounds how often and how aggressively the manager may hit the
// token endpoint.
type Policy struct {
	MinRefreshInterval time.Duration
	MaxRefreshInterval time.Duration
	BackoffMultiplier  float64
	MaxRetries         int
}

// DefaultPolicy mirrors production issuer limits: refreshes at most every
// ten minutes, backoff capped at an hour.
func DefaultPolicy() Policy {
	return Policy{
		MinRefreshInterval: 10 * time.Minute,
		MaxRefreshInterval: time.Hour,
		BackoffMultiplier:  3,
		MaxRetries:         1,
	}
}

// Metrics counts refresh outcomes. Counters are monotonic; external
// observers only ever see a Snapshot.
type Metrics struct {
	mu            sync.Mutex
	attempts      uint64
	successes     uint64
	failures      uint64
	rateLimitHits uint64
	lastError     string
	lastRefreshAt time.Time
}

// MetricsSnapshot is a point-in-time copy of Metrics for the status surface.
type MetricsSnapshot struct {
	Attempts      uint64    `json:"refresh_attempts"`
	Successes     uint64    `json:"refresh_successes"`
	Failures      uint64    `json:"refresh_failures"`
	RateLimitHits uint64    `json:"rate_limit_hits"`
	LastError     string    `json:"last_refresh_error,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_time,omitzero"`
}

func (m *Metrics) recordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *Metrics) recordSuccess(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
	m.lastError = ""
	m.lastRefreshAt = at
}

func (m *Metrics) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	if err != nil {
		m.lastError = err.Error()
	}
}

func (m *Metrics) recordRateLimitHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitHits++
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Attempts:      m.attempts,
		Successes:     m.successes,
		Failures:      m.failures,
		RateLimitHits: m.rateLimitHits,
		LastError:     m.lastError,
		LastRefreshAt: m.lastRefreshAt,
	}
}
