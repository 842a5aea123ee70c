package inventory

import (
	"time"

	"github.com/mmdatafocus/drops_backend/config"
	"github.com/mmdatafocus/drops_backend/utils"
)

// availabilityCache is the short-TTL read-through cache in front of
// availability reads. Only the no-exclusion variant is cached; per-session
// exclusions always go to storage. Lifecycle: created with the adapter,
// entries expire on TTL or on explicit invalidation after every write.
type availabilityCache struct {
	ttl time.Duration
}

func newAvailabilityCache() *availabilityCache {
	return &availabilityCache{ttl: utils.GetCacheLifespan()}
}

func cacheKey(productId, colorName string) string {
	return "AvailableStock:" + productId + ":" + colorName
}

func (c *availabilityCache) Get(productId, colorName string) (int, bool) {
	var available int
	exists, err := config.GetRedisObject(cacheKey(productId, colorName), &available)
	if err != nil || !exists {
		return 0, false
	}
	return available, true
}

func (c *availabilityCache) Set(productId, colorName string, available int) {
	// Best effort; a failed cache write only costs a storage read.
	_ = config.SetRedisObject(cacheKey(productId, colorName), &available, c.ttl)
}

func (c *availabilityCache) Invalidate(productId, colorName string) error {
	return config.RemoveRedisKey(cacheKey(productId, colorName))
}
