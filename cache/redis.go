package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jobgate/jobgate/errors"
)

// scanBatchSize is the COUNT hint for SCAN during prefix deletes.
const scanBatchSize = 100

// Redis implements Cache on a Redis client. The caller owns the client
// lifecycle.
type Redis struct {
	client goredis.Cmdable
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis-backed cache.
func NewRedis(client goredis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Get returns the value for key, or nil when absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache get %s", key)
	}
	return val, nil
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "cache set %s", key)
	}
	return nil
}

// Delete removes exactly key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "cache delete %s", key)
	}
	return nil
}

// DeleteByPrefix removes every key matching prefix* using incremental SCAN
// so large keyspaces are never blocked by a single KEYS call.
func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return errors.Wrapf(err, "cache scan %s", prefix)
		}

		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrapf(err, "cache delete %s", prefix)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
