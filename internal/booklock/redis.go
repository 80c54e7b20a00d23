package booklock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "booklock:"
	defaultTTL        = 30 * time.Second
	defaultRetryEvery = 25 * time.Millisecond
)

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every API instance pointed at the same
// Redis. Each lock is a SET NX PX key carrying a random token; the TTL bounds
// how long a crashed holder can block a book.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	wait       time.Duration
	retryEvery time.Duration
	logger     *slog.Logger
}

// NewRedisLocker waits up to wait for a busy key before failing with
// ErrLockTimeout.
func NewRedisLocker(client *redis.Client, wait time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:     client,
		prefix:     defaultKeyPrefix,
		ttl:        defaultTTL,
		wait:       wait,
		retryEvery: defaultRetryEvery,
		logger:     logger,
	}
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("booklock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrLockTimeout
		case <-time.After(l.retryEvery):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may already be cancelled; release anyway.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Error("failed to release book lock", "key", key, "error", err)
			}
		})
	}, nil
}
