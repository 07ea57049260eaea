// internal/adapter/lock/redis.go

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client is the subset of the redis client the lock needs
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

var _ Client = (*redis.Client)(nil)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a best-effort single-holder lock backed by SETNX
type RedisLocker struct {
	client Client
}

// NewRedisLocker creates a locker on client
func NewRedisLocker(client Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Connect parses a redis URL and pings the server
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Acquire takes key for ttl. ok is false when someone else holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("error acquiring lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if it is still held with token
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64(); err != nil {
		return fmt.Errorf("error releasing lock %s: %w", key, err)
	}
	return nil
}
