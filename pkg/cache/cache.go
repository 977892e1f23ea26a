// Package cache is the read-through snapshot cache between the engine and
// the entity store. Authorize paths read tier/policy snapshots from here;
// administrative mutations invalidate so the next read sees fresh
// configuration.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"quotagate/pkg/common"
	"quotagate/pkg/database"
	"quotagate/pkg/models"
)

// Cache key patterns
const (
	TiersKey    = "snapshot:tiers"
	PoliciesKey = "snapshot:policies"
)

// Cache layers a local TTL map over Redis over the entity store. Snapshots
// are short-lived: group membership and limit changes must reach the
// authorize path promptly even without an explicit invalidation.
type Cache struct {
	client *redis.Client
	repo   database.Repository
	local  *common.TTLMap
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCache connects to Redis and wraps repo.
func NewCache(config common.CacheConfig, repo database.Repository, ttl time.Duration, logger *logrus.Logger) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		client: client,
		repo:   repo,
		local:  common.NewTTLMap(ttl),
		ttl:    ttl,
		logger: logger,
	}
}

// Client returns the Redis client so the counter store can share the
// connection pool.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetTiers returns the current tier snapshot.
func (c *Cache) GetTiers(ctx context.Context) ([]models.Tier, error) {
	if value, ok := c.local.Get(TiersKey); ok {
		if tiers, ok := value.([]models.Tier); ok {
			return tiers, nil
		}
	}

	if data, err := c.client.Get(ctx, TiersKey).Result(); err == nil {
		var tiers []models.Tier
		if err := json.Unmarshal([]byte(data), &tiers); err == nil {
			c.local.Set(TiersKey, tiers)
			return tiers, nil
		}
	}

	tiers, err := c.repo.ListTiers(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, TiersKey, tiers)
	return tiers, nil
}

// GetPolicies returns the current policy snapshot.
func (c *Cache) GetPolicies(ctx context.Context) ([]models.Policy, error) {
	if value, ok := c.local.Get(PoliciesKey); ok {
		if policies, ok := value.([]models.Policy); ok {
			return policies, nil
		}
	}

	if data, err := c.client.Get(ctx, PoliciesKey).Result(); err == nil {
		var policies []models.Policy
		if err := json.Unmarshal([]byte(data), &policies); err == nil {
			c.local.Set(PoliciesKey, policies)
			return policies, nil
		}
	}

	policies, err := c.repo.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, PoliciesKey, policies)
	return policies, nil
}

// InvalidateTiers drops the tier snapshot after an administrative change.
func (c *Cache) InvalidateTiers(ctx context.Context) {
	c.invalidate(ctx, TiersKey)
}

// InvalidatePolicies drops the policy snapshot after an administrative change.
func (c *Cache) InvalidatePolicies(ctx context.Context) {
	c.invalidate(ctx, PoliciesKey)
}

func (c *Cache) fill(ctx context.Context, key string, value interface{}) {
	c.local.Set(key, value)
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Debug("Failed to write snapshot to redis")
	}
}

func (c *Cache) invalidate(ctx context.Context, key string) {
	c.local.Delete(key)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to invalidate snapshot")
	}
}
