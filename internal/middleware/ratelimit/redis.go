package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter whose counters live in Redis, so every instance of the
// server shares them. Each key/window pair is one counter that expires with
// its window.
type Redis struct {
	client *redis.Client
	limit  int
	prefix string
	now    func() time.Time
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions, perMinute int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newRedis(client, perMinute), nil
}

func newRedis(client *redis.Client, perMinute int) *Redis {
	return &Redis{client: client, limit: perMinute, prefix: "ledger:ratelimit:", now: time.Now}
}

func (r *Redis) key(client string) string {
	return fmt.Sprintf("%s%s:%d", r.prefix, client, r.now().Unix()/int64(window.Seconds()))
}

func (r *Redis) Allow(ctx context.Context, client string) (bool, error) {
	key := r.key(client)

	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n <= int64(r.limit), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
