package publish

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/brettboylen/mischief-tracker/models"
)

const latestKey = "latest"

// MemoryCache keeps the most recent result for the HTTP API, which answers
// 503 once the entry expires
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a cache whose entry expires after ttl; zero keeps it forever
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

func (c *MemoryCache) Name() string {
	return "cache"
}

func (c *MemoryCache) Publish(_ context.Context, result *models.ReconciledResult) error {
	c.cache.SetDefault(latestKey, result)
	return nil
}

// Latest returns the last published result, if it has not expired
func (c *MemoryCache) Latest() (*models.ReconciledResult, bool) {
	val, found := c.cache.Get(latestKey)
	if !found {
		return nil, false
	}
	return val.(*models.ReconciledResult), true
}
