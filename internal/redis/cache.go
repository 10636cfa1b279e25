package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/models"
)

// CacheClient wraps Redis for inventory unit snapshot caching with cluster
// support. The cache is advisory: the processor always re-reads the store of
// record before acting, so a stale snapshot can never cause a double-sell.
type CacheClient struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewCacheClient creates a new Redis cache client with cluster support
func NewCacheClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *CacheClient {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       50,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
			PoolSize: 10,
		})
	}

	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetUnit retrieves a unit snapshot from cache; nil means cache miss
func (c *CacheClient) GetUnit(ctx context.Context, sku, storeKey string) (*models.InventoryUnit, error) {
	key := c.unitKey(sku, storeKey)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Error().Err(err).Str("sku", sku).Msg("Failed to get unit from cache")
		return nil, fmt.Errorf("failed to get unit from cache: %w", err)
	}

	var unit models.InventoryUnit
	if err := json.Unmarshal([]byte(val), &unit); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to unmarshal cached unit")
		return nil, fmt.Errorf("failed to unmarshal cached unit: %w", err)
	}

	log.Debug().Str("sku", sku).Msg("Cache hit for unit")
	return &unit, nil
}

// SetUnit stores a unit snapshot in cache
func (c *CacheClient) SetUnit(ctx context.Context, unit *models.InventoryUnit) error {
	key := c.unitKey(unit.SKU, unit.StoreKey)

	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to marshal unit: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Error().Err(err).Str("sku", unit.SKU).Msg("Failed to set unit in cache")
		return fmt.Errorf("failed to set unit in cache: %w", err)
	}

	return nil
}

// DeleteUnit invalidates the cached snapshot after a write to the store of
// record
func (c *CacheClient) DeleteUnit(ctx context.Context, sku, storeKey string) error {
	key := c.unitKey(sku, storeKey)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Error().Err(err).Str("sku", sku).Msg("Failed to delete unit from cache")
		return fmt.Errorf("failed to delete unit from cache: %w", err)
	}

	log.Debug().Str("sku", sku).Msg("Invalidated cached unit")
	return nil
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

func (c *CacheClient) unitKey(sku, storeKey string) string {
	return fmt.Sprintf("%sunit:%s:%s", c.keyPrefix, storeKey, sku)
}
