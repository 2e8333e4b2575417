// Package redistier provides a Redis-backed admission counter store for
// horizontally scaled deployments, where window counts must be shared across
// instances.
package redistier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kavindyakdn/smart-home-energy-monitor/admission"
	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

// Counters implements admission.CounterStore on Redis.
type Counters struct {
	client *redis.Client
}

var _ admission.CounterStore = (*Counters)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Counters, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.WrapTransient(err, "redistier", "New", "ping redis")
	}

	return &Counters{client: client}, nil
}

// Incr implements admission.CounterStore. The window bucket is part of the
// key so counters reset by key rotation; the TTL keeps dead buckets from
// accumulating.
func (c *Counters) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := time.Now().UnixNano() / int64(window)
	bucketKey := fmt.Sprintf("%s:%d", key, bucket)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, bucketKey)
	// Two windows of slack so a bucket read near rollover still resolves.
	pipe.Expire(ctx, bucketKey, 2*window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.WrapTransient(err, "redistier", "Incr", "increment counter")
	}
	return incr.Val(), nil
}

// Close releases the Redis connection.
func (c *Counters) Close() error {
	return c.client.Close()
}
