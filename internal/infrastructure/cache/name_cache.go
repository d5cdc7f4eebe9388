// Package cache provides a redis read-through cache for inventory display names.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/returns"
	"pharmapos/pkg/logger"
)

const defaultKeyPrefix = "pharmapos:inventory:name:"

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NameCache decorates a NameResolver with redis. Names are display-only, so a
// redis failure is logged and the call goes straight to the inner resolver.
type NameCache struct {
	client    redis.Cmdable
	inner     returns.NameResolver
	ttl       time.Duration
	keyPrefix string
}

var _ returns.NameResolver = (*NameCache)(nil)

// NewNameCache wraps inner. ttl <= 0 keeps names for ten minutes.
func NewNameCache(client redis.Cmdable, inner returns.NameResolver, ttl time.Duration) *NameCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &NameCache{
		client:    client,
		inner:     inner,
		ttl:       ttl,
		keyPrefix: defaultKeyPrefix,
	}
}

func (c *NameCache) key(itemID id.ID) string {
	return c.keyPrefix + itemID.String()
}

func (c *NameCache) ResolveInventoryNames(ctx context.Context, itemIDs []id.ID) (map[id.ID]string, error) {
	out := make(map[id.ID]string, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}

	misses := c.lookup(ctx, itemIDs, out)
	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := c.inner.ResolveInventoryNames(ctx, misses)
	if err != nil {
		return nil, err
	}
	for k, v := range resolved {
		out[k] = v
	}
	c.store(ctx, resolved)
	return out, nil
}

// Invalidate drops cached names, e.g. after an item is renamed.
func (c *NameCache) Invalidate(ctx context.Context, itemIDs ...id.ID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, len(itemIDs))
	for i, itemID := range itemIDs {
		keys[i] = c.key(itemID)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate inventory names: %w", err)
	}
	return nil
}

// lookup fills out from redis and returns the ids it could not serve.
func (c *NameCache) lookup(ctx context.Context, itemIDs []id.ID, out map[id.ID]string) []id.ID {
	keys := make([]string, len(itemIDs))
	for i, itemID := range itemIDs {
		keys[i] = c.key(itemID)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn(ctx, "inventory name cache unavailable", "error", err)
		return itemIDs
	}

	var misses []id.ID
	for i, v := range vals {
		name, ok := v.(string)
		if !ok || name == "" {
			misses = append(misses, itemIDs[i])
			continue
		}
		out[itemIDs[i]] = name
	}
	return misses
}

func (c *NameCache) store(ctx context.Context, names map[id.ID]string) {
	if len(names) == 0 {
		return
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for itemID, name := range names {
			pipe.Set(ctx, c.key(itemID), name, c.ttl)
		}
		return nil
	})
	if err != nil {
		logger.Warn(ctx, "cache inventory names", "error", err, "count", len(names))
	}
}
