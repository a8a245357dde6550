package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FingerprintCache keeps recently seen fingerprints and their content
// hashes in Redis so repeated runs skip a database round trip per item.
// Every operation is best effort: a dead Redis degrades to cache misses,
// never to run failures.
type FingerprintCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewFingerprintCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *FingerprintCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FingerprintCache{client: client, ttl: ttl, logger: logger}
}

func (c *FingerprintCache) key(fp string) string { return "fp:" + fp }

// Get returns the cached content hash for a fingerprint. The second return
// reports a cache hit; misses and Redis errors look the same to callers.
func (c *FingerprintCache) Get(ctx context.Context, fp string) (string, bool) {
	val, err := c.client.Get(ctx, c.key(fp)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Debug("fingerprint cache read failed", zap.Error(err))
		return "", false
	}
	return val, true
}

// Put stores a fingerprint with its content hash.
func (c *FingerprintCache) Put(ctx context.Context, fp, contentHash string) {
	if err := c.client.Set(ctx, c.key(fp), contentHash, c.ttl).Err(); err != nil {
		c.logger.Debug("fingerprint cache write failed", zap.Error(err))
	}
}

// FingerprintLookup is the underlying store the cache fronts.
type FingerprintLookup interface {
	LookupFingerprint(ctx context.Context, fp string) (bool, string, error)
}

// CachedFingerprints layers the Redis cache over a persistent fingerprint
// store. It implements the same lookup interface so callers cannot tell
// the difference.
type CachedFingerprints struct {
	cache *FingerprintCache
	store FingerprintLookup
}

func NewCachedFingerprints(cache *FingerprintCache, store FingerprintLookup) *CachedFingerprints {
	return &CachedFingerprints{cache: cache, store: store}
}

func (c *CachedFingerprints) LookupFingerprint(ctx context.Context, fp string) (bool, string, error) {
	if hash, ok := c.cache.Get(ctx, fp); ok {
		return true, hash, nil
	}
	exists, hash, err := c.store.LookupFingerprint(ctx, fp)
	if err != nil {
		return false, "", err
	}
	if exists {
		c.cache.Put(ctx, fp, hash)
	}
	return exists, hash, nil
}
