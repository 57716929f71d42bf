package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/casebridge/casebridge/internal/errors"
)

// RedisRepo implements Repo on a Redis server.
type RedisRepo struct {
	client *redis.Client
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo connects to the Redis server at redisURL and verifies the
// connection with a ping.
func NewRedisRepo(ctx context.Context, redisURL string) (*RedisRepo, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apperrors.Wrapf(err, "store.NewRedisRepo ParseURL")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Wrapf(err, "store.NewRedisRepo Ping")
	}
	return &RedisRepo{client: client}, nil
}

func (r *RedisRepo) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrapf(err, "store.RedisRepo.Get %q", key)
	}
	return val, nil
}

func (r *RedisRepo) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.Wrapf(err, "store.RedisRepo.SetWithTTL %q", key)
	}
	return nil
}

func (r *RedisRepo) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apperrors.Wrapf(err, "store.RedisRepo.Exists %q", key)
	}
	return n > 0, nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}
