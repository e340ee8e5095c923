package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/complyhub/guidance-core/internal/domain/recommendation"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATION CACHE
// Sets live under recs:{user}:{hash}. Every key written for a user is also
// added to recs:{user}:keys so the user's entries can be dropped in one go
// without a SCAN. The index outlives its members by one TTL.
// ══════════════════════════════════════════════════════════════════════════════

// PrefixRecommendations namespaces recommendation keys.
const PrefixRecommendations = "recs:"

// DefaultRecommendationTTL is used when no TTL is configured.
const DefaultRecommendationTTL = 5 * time.Minute

// RecommendationKey returns the key of one cached set.
func RecommendationKey(userID, inputsHash string) string {
	return PrefixRecommendations + userID + ":" + inputsHash
}

// RecommendationIndexKey returns the key of the user's index set.
func RecommendationIndexKey(userID string) string {
	return PrefixRecommendations + userID + ":keys"
}

// RecommendationCache implements recommendation.Cache.
type RecommendationCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewRecommendationCache creates a cache with the given entry TTL.
func NewRecommendationCache(cache *Cache, ttl time.Duration) *RecommendationCache {
	if ttl <= 0 {
		ttl = DefaultRecommendationTTL
	}
	return &RecommendationCache{cache: cache, ttl: ttl}
}

// Get returns the cached set for (userID, inputsHash).
func (c *RecommendationCache) Get(ctx context.Context, userID, inputsHash string) (recommendation.Set, bool, error) {
	var set recommendation.Set
	err := c.cache.Get(ctx, RecommendationKey(userID, inputsHash), &set)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return recommendation.Set{}, false, nil
	case err != nil:
		return recommendation.Set{}, false, err
	}
	return set, true, nil
}

// Put stores a set and records its key in the user's index.
func (c *RecommendationCache) Put(ctx context.Context, userID, inputsHash string, set recommendation.Set) error {
	key := RecommendationKey(userID, inputsHash)
	data, err := encode(key, set, c.ttl)
	if err != nil {
		return err
	}

	index := RecommendationIndexKey(userID)
	_, err = c.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, 2*c.ttl)
		return nil
	})
	return err
}

// InvalidateUser deletes every set cached for the user.
func (c *RecommendationCache) InvalidateUser(ctx context.Context, userID string) error {
	index := RecommendationIndexKey(userID)
	keys, err := c.cache.client.SMembers(ctx, index).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return c.cache.Delete(ctx, append(keys, index)...)
}
