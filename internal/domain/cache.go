package domain

import (
	"context"
	"strconv"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
// All methods are scoped by runID.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, runID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, runID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, runID string, key string) error

	// IncrementCounter atomically adds delta to a counter and returns the new value.
	// A zero window keeps the counter until the cache evicts it.
	IncrementCounter(ctx context.Context, runID string, key string, delta int64, window time.Duration) (int64, error)

	// GetCounter returns the current counter value, 0 if absent.
	GetCounter(ctx context.Context, runID string, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Counter keys maintained for every run.
const (
	CounterTotal  = "total"
	CounterSAR    = "sar"
	CounterNormal = "normal"
)

// StepCounterKey returns the counter key of a simulation step.
func StepCounterKey(step int64) string {
	return "step:" + strconv.FormatInt(step, 10)
}

// AlertCounterKey returns the counter key of an alert group.
func AlertCounterKey(alertID int64) string {
	return "alert:" + strconv.FormatInt(alertID, 10)
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type" env:"AMLSIM_CACHE_TYPE" validate:"omitempty,oneof=memory redis"`

	// Local LRU cache settings
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize" validate:"gte=0"`
	LocalTTL     time.Duration `json:"localTTL" yaml:"localTTL"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr" env:"AMLSIM_REDIS_ADDR"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword" env:"AMLSIM_REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
