package store

import (
	"context"
	"sync"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// InMemoryRepo is a map-backed Repo used in tests and when no Redis URL is
// configured. Values do not survive a restart.
type InMemoryRepo struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

var _ Repo = (*InMemoryRepo)(nil)

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{entries: make(map[string]memoryEntry)}
}

func (r *InMemoryRepo) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && NowTimeFunc().After(entry.expiresAt) {
		delete(r.entries, key)
		return "", nil
	}
	return entry.value, nil
}

func (r *InMemoryRepo) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = NowTimeFunc().Add(ttl)
	}
	r.entries[key] = entry
	return nil
}

func (r *InMemoryRepo) Exists(ctx context.Context, key string) (bool, error) {
	val, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if val == "" {
		r.mu.Lock()
		_, ok := r.entries[key]
		r.mu.Unlock()
		return ok, nil
	}
	return true, nil
}

func (r *InMemoryRepo) Close() error {
	return nil
}
