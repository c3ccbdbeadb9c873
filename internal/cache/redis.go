package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

const redisKeyPrefix = "dispatch:decision:"

// RedisCache backs the decision cache with Redis for multi-replica
// deployments, using native key TTLs. Coalescing remains per-process:
// replicas may each pay one classification for the same fingerprint, which
// is the accepted trade-off for not distributing a lease.
type RedisCache struct {
	client *redis.Client
	group  singleflight.Group
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisCache connects to Redis at addr. The connection is verified with
// a ping so a misconfigured address fails at startup, not per-request.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Lookup fetches a decision by fingerprint. Redis expiry handles TTL; any
// read or decode failure is treated as a miss so a degraded Redis never
// degrades routing.
func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (types.RoutingDecision, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("Redis cache lookup failed, treating as miss")
		}
		return types.RoutingDecision{}, false
	}

	var decision types.RoutingDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		c.logger.WithError(err).Warn("Corrupt cache entry, treating as miss")
		return types.RoutingDecision{}, false
	}
	return decision, true
}

// Store writes a decision with the configured TTL. Best-effort: failures
// are logged and swallowed.
func (c *RedisCache) Store(ctx context.Context, decision types.RoutingDecision) {
	raw, err := json.Marshal(decision)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode decision for cache")
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+decision.Fingerprint, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis cache store failed")
	}
}

// Resolve coalesces concurrent classifications within this process.
func (c *RedisCache) Resolve(ctx context.Context, fingerprint string, classify ClassifyFunc) (types.RoutingDecision, error) {
	if decision, ok := c.Lookup(ctx, fingerprint); ok {
		return decision.WithCacheHit(), nil
	}
	return resolveShared(ctx, &c.group, c, fingerprint, classify)
}

// Close releases the Redis connection.
func (c *RedisCache) Close() {
	if err := c.client.Close(); err != nil {
		c.logger.WithError(err).Warn("Error closing Redis client")
	}
}

// Ensure RedisCache implements the cache interface
var _ DecisionCache = (*RedisCache)(nil)
