// Package store provides the durable key/value cache that seeds and persists
// the CRM access token across restarts, plus processed-conversation markers.
//
// The cache assumes a single active process instance. Two instances sharing
// the same keys would race each other on token refresh; that is a documented
// limitation, not something this package defends against.
package store

import (
	"context"
	"time"
)

const (
	accessTokenKey     = "crm_access_token"
	processedKeyPrefix = "processed_conversation:"

	// Processed markers age out so the cache does not grow without bound.
	processedTTL = 30 * 24 * time.Hour
)

// Repo is a durable string key/value store with per-key TTLs.
type Repo interface {
	// Get returns the value for key, or "" when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores value under key. A zero ttl means no expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	Close() error
}

// AccessToken returns the cached CRM access token, or "" when none is cached.
func AccessToken(ctx context.Context, r Repo) (string, error) {
	return r.Get(ctx, accessTokenKey)
}

// SetAccessToken caches the CRM access token for ttl.
func SetAccessToken(ctx context.Context, r Repo, token string, ttl time.Duration) error {
	return r.SetWithTTL(ctx, accessTokenKey, token, ttl)
}

// IsProcessed reports whether a conversation has already been handled.
func IsProcessed(ctx context.Context, r Repo, conversationID string) (bool, error) {
	return r.Exists(ctx, processedKeyPrefix+conversationID)
}

// MarkProcessed records that a conversation has been handled.
func MarkProcessed(ctx context.Context, r Repo, conversationID string) error {
	return r.SetWithTTL(ctx, processedKeyPrefix+conversationID, "1", processedTTL)
}
