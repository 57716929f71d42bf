// Package server exposes the stateless JSON status surface: health check,
// metrics snapshot, and recent-log retrieval. No core logic lives here.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/casebridge/casebridge/poller"
	"github.com/casebridge/casebridge/token"
)

const (
	RouteHealth  = "/health"
	RouteMetrics = "/metrics"
	RouteLogs    = "/logs"
)

// TokenMetrics is the slice of the token manager the server reads.
type TokenMetrics interface {
	Metrics() token.MetricsSnapshot
}

// PollTotals is the slice of the scheduler the server reads.
type PollTotals interface {
	Totals() poller.TotalsSnapshot
}

type Server struct {
	router    chi.Router
	tokens    TokenMetrics
	totals    PollTotals
	logs      *LogBuffer
	startedAt time.Time
	nowFunc   func() time.Time
}

func New(tokens TokenMetrics, totals PollTotals, logs *LogBuffer) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		tokens:    tokens,
		totals:    totals,
		logs:      logs,
		startedAt: time.Now(),
		nowFunc:   time.Now,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get(RouteHealth, s.handleHealth)
	s.router.Get(RouteMetrics, s.handleMetrics)
	s.router.Get(RouteLogs, s.handleLogs)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
