// Package conversations is the client for the bot platform's conversation
// log: listing conversations for a bot and fetching their messages.
package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/casebridge/casebridge/internal/errors"
)

// ID tolerates both string and numeric identifiers on the wire.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation id is neither string nor number: %s", string(data))
	}
	*id = ID(n.String())
	return nil
}

// Conversation is one bot conversation as listed by the platform.
type Conversation struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Message is a single turn within a conversation.
type Message struct {
	ID        ID     `json:"id"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	Machine   bool   `json:"machine"`
	CreatedAt int64  `json:"created_at"`
}

// Client calls the bot platform API with Bearer authentication.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(baseURL, apiKey string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ListConversations fetches the conversations for a bot. No ordering
// guarantee is assumed on the returned list.
func (c *Client) ListConversations(ctx context.Context, botID string) ([]Conversation, error) {
	params := url.Values{}
	params.Set("bot_id", botID)
	return getList[Conversation](ctx, c, "/conversations", params)
}

// ListMessages fetches all messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	params := url.Values{}
	params.Set("conversation_id", conversationID)
	return getList[Message](ctx, c, "/messages", params)
}

// getList performs a GET and decodes either the wrapped {"data":[...]} shape
// or a bare JSON list; the platform has used both.
func getList[T any](ctx context.Context, c *Client, endpoint string, params url.Values) ([]T, error) {
	reqURL := c.baseURL + endpoint + "?" + params.Encode()
	c.log.Debug().Str("url", reqURL).Msg("calling bot api")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, apperrors.Wrapf(err, "conversations.Client NewRequest %s", endpoint)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, "conversations.Client Do %s", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperrors.Wrapf(err, "conversations.Client ReadAll %s", endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bot api %s returned HTTP %d", endpoint, resp.StatusCode)
	}

	var wrapped struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var bare []T
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	return nil, fmt.Errorf("bot api %s returned an unexpected response shape", endpoint)
}
