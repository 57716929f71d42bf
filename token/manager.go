// Package token owns the OAuth access/refresh token state for the CRM
// tenant: deciding when a refresh is due, executing it with bounded backoff,
// and adopting the new API host when the issuer migrates the tenant.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	apperrors "github.com/casebridge/casebridge/internal/errors"
	"github.com/casebridge/casebridge/store"
)

const (
	// Refresh a little before actual expiry to avoid edge races.
	defaultExpirySkew = 2 * time.Minute

	// Used when the issuer reports a missing or non-positive expires_in.
	// An expires_in of zero never means "already expired".
	defaultExpirySeconds = 3600
)

// Manager handles access token refresh, rotation, and host adoption against
// the issuer's token endpoint. Reads take an immutable snapshot and never
// block on an in-flight refresh.
type Manager struct {
	httpClient      *http.Client
	accountsBaseURL string
	clientID        string
	clientSecret    string
	policy          Policy
	skew            time.Duration
	repo            store.Repo
	log             zerolog.Logger
	nowFunc         func() time.Time

	refreshMu sync.Mutex // serializes the refresh-and-publish sequence only

	stateMu sync.RWMutex
	state   State

	metrics Metrics
}

type ManagerOption func(*Manager)

func WithPolicy(policy Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = policy
	}
}

func WithSkew(skew time.Duration) ManagerOption {
	return func(m *Manager) {
		m.skew = skew
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithStore persists the access token after every successful refresh so it
// can seed the manager across restarts.
func WithStore(repo store.Repo) ManagerOption {
	return func(m *Manager) {
		m.repo = repo
	}
}

func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithInitialState seeds the manager with previously known credentials, for
// example a statically configured refresh token and a cached access token.
func WithInitialState(state State) ManagerOption {
	return func(m *Manager) {
		m.state = state
	}
}

func New(accountsBaseURL, clientID, clientSecret string, options ...ManagerOption) *Manager {
	m := &Manager{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		accountsBaseURL: strings.TrimRight(accountsBaseURL, "/"),
		clientID:        clientID,
		clientSecret:    clientSecret,
		policy:          DefaultPolicy(),
		skew:            defaultExpirySkew,
		log:             zerolog.Nop(),
		nowFunc:         time.Now,
	}

	for _, opt := range options {
		opt(m)
	}

	if m.policy.MaxRetries < 1 {
		m.policy.MaxRetries = 1
	}
	m.state.APIHost = strings.TrimRight(m.state.APIHost, "/")
	return m
}

// Snapshot returns a copy of the current token state.
func (m *Manager) Snapshot() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Metrics returns a copy of the refresh counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// NeedsRefresh reports whether the access token is unknown, expired, or
// within the expiry skew of expiring.
func (m *Manager) NeedsRefresh() bool {
	snap := m.Snapshot()
	if snap.ExpiresAt.IsZero() {
		return true
	}
	return !m.nowFunc().Before(snap.ExpiresAt.Add(-m.skew))
}

// CanAttemptRefresh reports whether the min-interval gate permits a refresh
// attempt now. A forced attempt (expiry or HTTP 401) bypasses the gate.
func (m *Manager) CanAttemptRefresh(force bool) bool {
	if force {
		return true
	}
	snap := m.Snapshot()
	if snap.LastRefreshAt.IsZero() {
		return true
	}
	return m.nowFunc().Sub(snap.LastRefreshAt) >= m.policy.MinRefreshInterval
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers collapse into a single network call: whoever wins the lock
// refreshes, everyone else observes the published state. Rate-limit
// responses are retried with bounded backoff; exhausting the retries returns
// an error wrapping ErrRateLimited while leaving the previous state intact.
func (m *Manager) Refresh(ctx context.Context, force bool) (State, error) {
	if !m.CanAttemptRefresh(force) {
		return State{}, apperrors.ErrRefreshThrottled
	}

	entered := m.Snapshot().LastRefreshAt

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Double-checked gate: a concurrent caller may have refreshed while we
	// waited on the lock.
	if snap := m.Snapshot(); snap.LastRefreshAt.After(entered) && !m.NeedsRefresh() {
		return snap, nil
	}
	if !m.CanAttemptRefresh(force) {
		return State{}, apperrors.ErrRefreshThrottled
	}

	snap := m.Snapshot()
	if snap.RefreshToken == "" {
		return State{}, apperrors.ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("refresh_token", snap.RefreshToken)

	resp, err := m.requestTokenWithBackoff(ctx, form)
	if err != nil {
		return State{}, apperrors.Wrapf(err, "token.Manager.Refresh")
	}
	return m.publish(ctx, resp)
}

// ExchangeCode redeems an authorization code for a fresh token set and
// publishes it, including any rotated refresh token and assigned API host.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) (State, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)

	m.metrics.recordAttempt()
	resp, err := m.requestToken(ctx, form)
	if err != nil {
		m.metrics.recordFailure(err)
		return State{}, apperrors.Wrapf(err, "token.Manager.ExchangeCode")
	}
	return m.publish(ctx, resp)
}

// issuerResponse is the token endpoint's response body. api_domain, when
// present, is the regional host all subsequent API calls must target.
type issuerResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	APIDomain    string `json:"api_domain,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

func (m *Manager) requestTokenWithBackoff(ctx context.Context, form url.Values) (issuerResponse, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.policy.MinRefreshInterval
	expo.MaxInterval = m.policy.MaxRefreshInterval
	expo.Multiplier = m.policy.BackoffMultiplier
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	var resp issuerResponse
	attempt := 0
	operation := func() error {
		attempt++
		m.metrics.recordAttempt()
		m.log.Info().Int("attempt", attempt).Int("max_attempts", m.policy.MaxRetries).Msg("attempting token refresh")

		r, err := m.requestToken(ctx, form)
		if err == nil {
			resp = r
			return nil
		}
		m.metrics.recordFailure(err)
		if apperrors.Is(err, apperrors.ErrRateLimited) {
			m.metrics.recordRateLimitHit()
			m.log.Warn().Int("attempt", attempt).Msg("rate limit on token refresh, backing off")
			return err
		}
		m.log.Error().Err(err).Int("attempt", attempt).Msg("token refresh failed")
		return backoff.Permanent(err)
	}

	retries := uint64(m.policy.MaxRetries - 1)
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expo, retries), ctx)); err != nil {
		return issuerResponse{}, err
	}
	return resp, nil
}

func (m *Manager) requestToken(ctx context.Context, form url.Values) (issuerResponse, error) {
	endpoint := m.accountsBaseURL + "/oauth/v2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return issuerResponse{}, apperrors.Wrapf(err, "token.Manager.requestToken NewRequest")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := m.httpClient.Do(req)
	if err != nil {
		return issuerResponse{}, apperrors.Wrapf(err, "token.Manager.requestToken Do")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return issuerResponse{}, apperrors.Wrapf(err, "token.Manager.requestToken ReadAll")
	}

	var resp issuerResponse
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return issuerResponse{}, apperrors.Wrapf(apperrors.ErrRateLimited, "token endpoint returned 429")
	}
	if httpResp.StatusCode == http.StatusBadRequest {
		// The issuer reports refresh rate limiting inside a 400 payload.
		if jsonErr := json.Unmarshal(body, &resp); jsonErr == nil && isRateLimitCode(resp.Error, resp.ErrorDesc) {
			return issuerResponse{}, apperrors.Wrapf(apperrors.ErrRateLimited, "token endpoint error %q", resp.Error)
		}
		return issuerResponse{}, fmt.Errorf("token endpoint returned 400: %s", string(body))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return issuerResponse{}, fmt.Errorf("token endpoint returned %d", httpResp.StatusCode)
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return issuerResponse{}, apperrors.Wrapf(err, "token.Manager.requestToken Unmarshal")
	}
	if resp.Error != "" {
		if isRateLimitCode(resp.Error, resp.ErrorDesc) {
			return issuerResponse{}, apperrors.Wrapf(apperrors.ErrRateLimited, "token endpoint error %q", resp.Error)
		}
		return issuerResponse{}, fmt.Errorf("token endpoint error %q", resp.Error)
	}
	if resp.AccessToken == "" {
		return issuerResponse{}, apperrors.Wrapf(apperrors.ErrNoAccessToken, "token endpoint returned no access_token")
	}
	return resp, nil
}

func isRateLimitCode(code, description string) bool {
	switch strings.ToLower(code) {
	case "rate_limit_exceeded", "too_many_requests":
		return true
	}
	return strings.Contains(strings.ToLower(description), "too many requests")
}

// publish supersedes the token state with the issuer's response, adopting a
// new API host and rotated refresh token when supplied, and persists the
// access token best-effort.
func (m *Manager) publish(ctx context.Context, resp issuerResponse) (State, error) {
	now := m.nowFunc()
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}

	m.stateMu.Lock()
	newState := State{
		AccessToken:   resp.AccessToken,
		RefreshToken:  m.state.RefreshToken,
		APIHost:       m.state.APIHost,
		ExpiresAt:     now.Add(time.Duration(expiresIn) * time.Second),
		LastRefreshAt: now,
	}
	if resp.RefreshToken != "" {
		newState.RefreshToken = resp.RefreshToken
	}
	if resp.APIDomain != "" {
		newState.APIHost = strings.TrimRight(resp.APIDomain, "/")
	}
	hostChanged := newState.APIHost != m.state.APIHost
	m.state = newState
	m.stateMu.Unlock()

	m.metrics.recordSuccess(now)
	if hostChanged {
		m.log.Info().Str("api_host", newState.APIHost).Msg("adopted issuer-assigned API host")
	}
	m.log.Info().Time("expires_at", newState.ExpiresAt).Msg("token refresh successful")

	if m.repo != nil {
		ttl := time.Duration(expiresIn) * time.Second
		if err := store.SetAccessToken(ctx, m.repo, newState.AccessToken, ttl); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist access token")
		}
	}
	return newState, nil
}
