package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 60 * time.Second

// CachedStore is a read-through redis decorator over a Store. Stored failure
// classes are not cached; only successfully resolved versions are. Cache
// outages degrade to the underlying store.
type CachedStore struct {
	inner  Store
	client *redis.Client
	logger *zap.Logger
}

func NewCachedStore(inner Store, client *redis.Client, logger *zap.Logger) *CachedStore {
	return &CachedStore{inner: inner, client: client, logger: logger}
}

func (c *CachedStore) GetVersionByID(ctx context.Context, orgID, promptID, versionID string) (*Version, error) {
	key := "prompt:" + orgID + ":" + promptID + ":v:" + versionID
	return c.through(ctx, key, func() (*Version, error) {
		return c.inner.GetVersionByID(ctx, orgID, promptID, versionID)
	})
}

func (c *CachedStore) GetVersionByEnvironment(ctx context.Context, orgID, promptID, environment string) (*Version, error) {
	key := "prompt:" + orgID + ":" + promptID + ":env:" + environment
	return c.through(ctx, key, func() (*Version, error) {
		return c.inner.GetVersionByEnvironment(ctx, orgID, promptID, environment)
	})
}

func (c *CachedStore) GetProductionVersion(ctx context.Context, orgID, promptID string) (*Version, error) {
	key := "prompt:" + orgID + ":" + promptID + ":production"
	return c.through(ctx, key, func() (*Version, error) {
		return c.inner.GetProductionVersion(ctx, orgID, promptID)
	})
}

func (c *CachedStore) through(ctx context.Context, key string, fetch func() (*Version, error)) (*Version, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var v Version
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return &v, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("prompt cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := fetch()
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(v); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, raw, cacheTTL).Err(); setErr != nil && c.logger != nil {
			c.logger.Warn("prompt cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return v, nil
}
