package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript adds a delta and sets the window on the first write. A zero window never expires.
var incrementScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) and tonumber(ARGV[2]) > 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisCache implements Cache using Redis.
// Used standalone or as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, runID string, key string) ([]byte, error) {
	if runID == "" {
		return nil, ErrRunIDRequired
	}

	val, err := c.client.Get(ctx, c.makeKey(runID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, runID string, key string, value []byte, ttl time.Duration) error {
	if runID == "" {
		return ErrRunIDRequired
	}

	return c.client.Set(ctx, c.makeKey(runID, key), value, max(ttl, 0)).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, runID string, key string) error {
	if runID == "" {
		return ErrRunIDRequired
	}

	return c.client.Del(ctx, c.makeKey(runID, key)).Err()
}

// IncrementCounter atomically adds delta using INCRBY, setting the window on first write.
func (c *RedisCache) IncrementCounter(ctx context.Context, runID string, key string, delta int64, window time.Duration) (int64, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}

	fullKey := c.makeKey(runID, "counter:"+key)
	return incrementScript.Run(ctx, c.client, []string{fullKey}, delta, window.Milliseconds()).Int64()
}

// GetCounter returns a counter value, 0 if absent.
func (c *RedisCache) GetCounter(ctx context.Context, runID string, key string) (int64, error) {
	if runID == "" {
		return 0, ErrRunIDRequired
	}

	val, err := c.client.Get(ctx, c.makeKey(runID, "counter:"+key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(runID, key string) string {
	return "amlsim:" + runID + ":" + key
}
