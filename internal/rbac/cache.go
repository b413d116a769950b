package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/menuguard/internal/observability"
)

const (
	cacheVersionKey = "menuguard:authz:version"
	bumpChannel     = "menuguard.authz.bump"
)

// Cache holds effective tier maps under a global version that every grant,
// membership, role or resource change bumps. Stale entries are never read
// again once the version moves; TTL only reclaims memory.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	local   *lru.LRU[string, map[int64]Tier]
	// purges counts local invalidations; it is part of every local key.
	purges  atomic.Int64
	metrics *observability.Metrics
	logger  *slog.Logger
}

// CacheConfig configures Cache.
type CacheConfig struct {
	TTL time.Duration
	// LocalSize enables an in-process layer in front of Redis when positive.
	LocalSize int
	LocalTTL  time.Duration
}

// NewCache instantiates the cache helper. A nil client keeps only the local layer.
func NewCache(client *redis.Client, cfg CacheConfig, metrics *observability.Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	c := &Cache{client: client, ttl: cfg.TTL, metrics: metrics, logger: logger}
	if cfg.LocalSize > 0 {
		localTTL := cfg.LocalTTL
		if localTTL <= 0 {
			localTTL = 30 * time.Second
		}
		c.local = lru.NewLRU[string, map[int64]Tier](cfg.LocalSize, nil, localTTL)
	}
	return c
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached map by incrementing the version and notifying peers.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.purgeLocal()
	if c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return fmt.Errorf("rbac: bump cache version: %w", err)
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation purges the local layer whenever another instance bumps the version.
func (c *Cache) ListenForInvalidation(ctx context.Context) {
	if c == nil || c.client == nil || c.local == nil {
		return
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				c.local.Purge()
			}
		}
	}()
}

// Loader builds an effective map. key identifies the cache generation the
// build belongs to; concurrent builds may only be shared under the same key.
type Loader func(ctx context.Context, key string) (map[int64]Tier, error)

// Effective returns the cached map for userID or fills it with loader.
// Redis failures degrade to calling loader directly.
func (c *Cache) Effective(ctx context.Context, userID int64, loader Loader) (map[int64]Tier, error) {
	if c == nil {
		return loader(ctx, fmt.Sprintf("menuguard:authz:effective:%d", userID))
	}
	purges := c.purges.Load()
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("rbac cache version", slog.Any("error", err))
		c.metrics.ObserveCache("error")
		return loader(ctx, fmt.Sprintf("menuguard:authz:effective:%d:uncached:%d", userID, purges))
	}
	key := fmt.Sprintf("menuguard:authz:effective:%d:%d", userID, ver)
	localKey := fmt.Sprintf("%s:%d", key, purges)

	if c.local != nil {
		if m, ok := c.local.Get(localKey); ok {
			c.metrics.ObserveCache("local_hit")
			return copyTiers(m), nil
		}
	}
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var m map[int64]Tier
			if err := json.Unmarshal(payload, &m); err == nil {
				c.metrics.ObserveCache("hit")
				c.storeLocal(localKey, purges, m)
				return copyTiers(m), nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("rbac cache get", slog.Any("error", err))
		}
	}

	c.metrics.ObserveCache("miss")
	m, err := loader(ctx, localKey)
	if err != nil {
		return nil, err
	}
	if c.client != nil && c.current(ctx, ver) {
		raw, err := json.Marshal(m)
		if err == nil {
			err = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		if err != nil {
			c.logger.Warn("rbac cache set", slog.Any("error", err))
		}
	}
	c.storeLocal(localKey, purges, m)
	return copyTiers(m), nil
}

// current reports whether ver is still the live version. A build that
// straddles a bump is returned to its caller but never stored.
func (c *Cache) current(ctx context.Context, ver int64) bool {
	now, err := c.Version(ctx)
	return err == nil && now == ver
}

func (c *Cache) purgeLocal() {
	c.purges.Add(1)
	if c.local != nil {
		c.local.Purge()
	}
}

func (c *Cache) storeLocal(key string, purges int64, m map[int64]Tier) {
	if c.local != nil && c.purges.Load() == purges {
		c.local.Add(key, copyTiers(m))
	}
}

func copyTiers(m map[int64]Tier) map[int64]Tier {
	out := make(map[int64]Tier, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
