package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200

	contentTypeJSON = "application/json; charset=utf-8"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	now := s.nowFunc()
	resp := map[string]any{
		"application": map[string]any{
			"status":         "running",
			"uptime_seconds": now.Sub(s.startedAt).Seconds(),
		},
		"conversations": s.totals.Totals(),
		"tokens":        s.tokens.Metrics(),
		"timestamp":     now.Unix(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	level := r.URL.Query().Get("level")

	entries := s.logs.Recent(limit, level)
	resp := map[string]any{
		"logs":      entries,
		"count":     len(entries),
		"timestamp": s.nowFunc().Unix(),
	}
	if level != "" {
		resp["level_filter"] = level
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to encode status response")
	}
}
