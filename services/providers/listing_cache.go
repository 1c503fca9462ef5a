package providers

import (
	"context"
	"sync"
	"time"

	"github.com/upb/vision-gateway/services/fallback"
)

// listingEntry is one successful listing with its fetch time
type listingEntry struct {
	models     []string
	insertedAt time.Time
}

// isExpired checks if the entry has outlived ttl
func (e *listingEntry) isExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.insertedAt) > ttl
}

// CachedLister reuses a successful enabled-model listing for a TTL.
// Failed listings are never cached, so the next run lists again.
// Thread-safe implementation using sync.Mutex
type CachedLister struct {
	mu     sync.Mutex
	lister fallback.ModelLister
	ttl    time.Duration
	entry  *listingEntry
	hits   uint64
	misses uint64
	now    func() time.Time
}

var _ fallback.ModelLister = (*CachedLister)(nil)

// NewCachedLister wraps lister with a TTL cache
func NewCachedLister(lister fallback.ModelLister, ttl time.Duration) *CachedLister {
	return &CachedLister{
		lister: lister,
		ttl:    ttl,
		now:    time.Now,
	}
}

// ListEnabledModels returns the cached listing or fetches a fresh one
func (c *CachedLister) ListEnabledModels(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.entry != nil && !c.entry.isExpired(c.ttl, c.now()) {
		c.hits++
		models := append([]string(nil), c.entry.models...)
		c.mu.Unlock()
		return models, nil
	}
	c.misses++
	c.mu.Unlock()

	models, err := c.lister.ListEnabledModels(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entry = &listingEntry{
		models:     append([]string(nil), models...),
		insertedAt: c.now(),
	}
	c.mu.Unlock()

	return models, nil
}

// Stats returns cache statistics
func (c *CachedLister) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Cached:  c.entry != nil,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Cached  bool
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// calculateHitRate calculates the cache hit rate (must be called with lock held)
func (c *CachedLister) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
