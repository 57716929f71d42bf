package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/casebridge/casebridge/poller"
	"github.com/casebridge/casebridge/server"
	"github.com/casebridge/casebridge/token"
)

type tokenMetricsFake struct {
	snapshot token.MetricsSnapshot
}

func (f *tokenMetricsFake) Metrics() token.MetricsSnapshot {
	return f.snapshot
}

type pollTotalsFake struct {
	snapshot poller.TotalsSnapshot
}

func (f *pollTotalsFake) Totals() poller.TotalsSnapshot {
	return f.snapshot
}

func newTestServer(logs *server.LogBuffer) *server.Server {
	return server.New(
		&tokenMetricsFake{snapshot: token.MetricsSnapshot{Attempts: 3, Failures: 1}},
		&pollTotalsFake{snapshot: poller.TotalsSnapshot{TotalProcessed: 7, CasesCreated: 5}},
		logs,
	)
}

func getJSON(t *testing.T, handler http.Handler, target string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(server.NewLogBuffer(10))
	body := getJSON(t, srv.Handler(), server.RouteHealth)
	require.Equal(t, map[string]any{"status": "ok"}, body)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(server.NewLogBuffer(10))
	body := getJSON(t, srv.Handler(), server.RouteMetrics)

	app, ok := body["application"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "running", app["status"])
	require.Contains(t, app, "uptime_seconds")

	tokens, ok := body["tokens"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 3, tokens["refresh_attempts"])
	require.EqualValues(t, 1, tokens["refresh_failures"])

	convs, ok := body["conversations"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 7, convs["total_processed"])
	require.EqualValues(t, 5, convs["cases_created"])
}

func TestLogsEndpointLimitAndFilter(t *testing.T) {
	logs := server.NewLogBuffer(10)
	writeLogLine(t, logs, "info", "cycle complete")
	writeLogLine(t, logs, "warn", "rate limit observed")
	writeLogLine(t, logs, "info", "case created")

	srv := newTestServer(logs)
	body := getJSON(t, srv.Handler(), server.RouteLogs+"?limit=2")
	require.EqualValues(t, 2, body["count"])

	body = getJSON(t, srv.Handler(), server.RouteLogs+"?level=warn")
	require.EqualValues(t, 1, body["count"])
	require.Equal(t, "warn", body["level_filter"])
	entries, ok := body["logs"].([]any)
	require.True(t, ok)
	entry, ok := entries[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "rate limit observed", entry["message"])
}

func writeLogLine(t *testing.T, logs *server.LogBuffer, level, message string) {
	t.Helper()
	line, err := json.Marshal(map[string]string{
		"level":   level,
		"time":    "2025-03-14T09:30:00Z",
		"message": message,
	})
	require.NoError(t, err)
	_, err = logs.Write(append(line, '\n'))
	require.NoError(t, err)
}
