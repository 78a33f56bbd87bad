// Package cache provides the Redis-backed heartbeat presence tracker.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"license-gateway/config"
)

// ErrUnavailable is returned while the circuit breaker is open
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

const (
	breakerThreshold = 3
	breakerRetry     = 30 * time.Second
)

// CacheService is a Redis client guarded by a circuit breaker. Callers treat
// its errors as best effort failures.
type CacheService struct {
	client  *redis.Client
	config  config.RedisConfig
	logger  zerolog.Logger
	breaker *breaker
}

// NewCacheService connects to Redis. A failed initial ping starts the service
// with the breaker open instead of failing startup.
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = DefaultPresenceTTL
	}

	cs := &CacheService{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   1,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		}),
		config:  cfg,
		logger:  logger.With().Str("component", "presence_cache").Str("address", cfg.Address).Logger(),
		breaker: newBreaker(breakerThreshold, breakerRetry),
	}
	cs.breaker.onChange = func(open bool, failures int) {
		if open {
			cs.logger.Warn().Int("failures", failures).Msg("presence cache unavailable, heartbeats are not tracked")
			return
		}
		cs.logger.Info().Msg("presence cache recovered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.breaker.trip()
		cs.logger.Warn().Err(err).Msg("redis unreachable at startup, presence tracking degraded")
		return cs, nil
	}

	cs.logger.Info().Msg("redis connected")
	return cs, nil
}

// run executes fn unless the breaker is open and feeds the outcome back to it
func (cs *CacheService) run(op string, fn func() error) error {
	if !cs.breaker.allow() {
		return ErrUnavailable
	}
	if err := fn(); err != nil && !errors.Is(err, redis.Nil) {
		cs.breaker.failure()
		return fmt.Errorf("redis %s failed: %w", op, err)
	}
	cs.breaker.success()
	return nil
}

// IsHealthy reports whether the breaker is closed
func (cs *CacheService) IsHealthy() bool {
	open, _ := cs.breaker.state()
	return !open
}

// Ping checks Redis connectivity, bypassing the breaker
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.breaker.failure()
		return err
	}
	cs.breaker.success()
	return nil
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	return cs.client.Close()
}

// Stats describes the presence cache for the health endpoint
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns the breaker state and connection settings
func (cs *CacheService) GetStats() Stats {
	open, failures := cs.breaker.state()
	return Stats{
		Healthy:      !open,
		FailureCount: failures,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}
