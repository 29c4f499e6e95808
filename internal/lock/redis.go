package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries our value, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica that talks to the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// block a session.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if prefix == "" {
		prefix = "interviewd:lock:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// TryAcquire implements Locker.
func (r *Redis) TryAcquire(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	value := uuid.NewString()

	ok, err := r.client.SetNX(ctx, k, value, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		// The caller's context may already be done; release on our own.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.client, []string{k}, value).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to release session lock", "key", key, "error", err)
		}
	}, nil
}
