// Package crm wraps outbound CRM calls with token-aware resilience and
// provides the idempotent create-or-reuse case logic on top of it.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/casebridge/casebridge/internal/errors"
	"github.com/casebridge/casebridge/token"
)

// Gateway sends authenticated requests to the CRM API. It refreshes the
// token proactively near expiry and reactively on HTTP 401, and always
// rebuilds the target URL from the current API host, because the issuer may
// migrate the tenant to a different regional host on any refresh.
type Gateway struct {
	tokens     *token.Manager
	apiVersion string
	httpClient *http.Client
	log        zerolog.Logger
}

// Response is a completed CRM call: a 2xx status and the full body.
type Response struct {
	StatusCode int
	Body       []byte
}

type GatewayOption func(*Gateway)

func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

func WithGatewayLogger(log zerolog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = log
	}
}

func NewGateway(tokens *token.Manager, apiVersion string, options ...GatewayOption) *Gateway {
	g := &Gateway{
		tokens:     tokens,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Do sends a CRM request for endpoint (e.g. "/Cases/search?criteria=...").
// A nil payload sends no body; anything else is JSON-encoded.
//
// On 401 it forces one refresh past the min-interval gate, rebuilds the URL
// from the possibly updated host, and retries exactly once. A failed forced
// refresh, or a second 401, surfaces as ErrAuthExhausted. 429 surfaces as
// ErrRateLimited. Other error statuses propagate as *StatusError.
func (g *Gateway) Do(ctx context.Context, method, endpoint string, payload any) (*Response, error) {
	if g.tokens.NeedsRefresh() && g.tokens.CanAttemptRefresh(true) {
		if _, err := g.tokens.Refresh(ctx, true); err != nil {
			// Proceed with the existing token; the request itself decides
			// whether that token is still good.
			g.log.Warn().Err(err).Msg("proactive token refresh failed, proceeding with current token")
		}
	}

	body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	resp, err := g.send(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return g.finish(method, endpoint, resp)
	}

	g.log.Info().Str("endpoint", endpoint).Msg("received 401, forcing token refresh")
	if _, err := g.tokens.Refresh(ctx, true); err != nil {
		return nil, fmt.Errorf("crm.Gateway.Do %s %s: %w: forced refresh failed: %w", method, endpoint, apperrors.ErrAuthExhausted, err)
	}

	// Retry exactly once, rebuilding the URL from the refreshed state.
	retry, err := g.send(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("crm.Gateway.Do %s %s: %w: retry after refresh still unauthorized", method, endpoint, apperrors.ErrAuthExhausted)
	}
	return g.finish(method, endpoint, retry)
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrapf(err, "crm.Gateway payload marshal")
	}
	return body, nil
}

// send performs a single HTTP round trip. The URL is computed from the
// current token snapshot at call time, never cached across a refresh.
func (g *Gateway) send(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	snap := g.tokens.Snapshot()
	if snap.AccessToken == "" {
		return nil, apperrors.ErrNoAccessToken
	}

	url := fmt.Sprintf("%s/crm/%s%s", snap.APIHost, g.apiVersion, endpoint)
	g.log.Debug().Str("method", method).Str("url", url).Msg("calling crm")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperrors.Wrapf(err, "crm.Gateway.send NewRequest %s", endpoint)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+snap.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, "crm.Gateway.send Do %s", endpoint)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.Wrapf(err, "crm.Gateway.send ReadAll %s", endpoint)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}

// finish maps a completed round trip to the gateway's error taxonomy.
func (g *Gateway) finish(method, endpoint string, resp *Response) (*Response, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("crm.Gateway.Do %s %s: %w", method, endpoint, apperrors.ErrRateLimited)
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
}
