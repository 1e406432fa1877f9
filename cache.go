package tenancy

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultSlugCacheTTL bounds how long a resolved slug is trusted
const DefaultSlugCacheTTL = 5 * time.Minute

// SlugCache caches slug to tenant id lookups
type SlugCache interface {
	Get(slug string) (string, bool)
	Set(slug, tenantID string)
	Delete(slug string)
}

// RistrettoSlugCache is an in-process SlugCache
type RistrettoSlugCache struct {
	c   *ristretto.Cache[string, string]
	ttl time.Duration
}

// NewRistrettoSlugCache sizes the cache for roughly maxEntries slugs
func NewRistrettoSlugCache(maxEntries int64, ttl time.Duration) (*RistrettoSlugCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if ttl <= 0 {
		ttl = DefaultSlugCacheTTL
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoSlugCache{c: c, ttl: ttl}, nil
}

func (r *RistrettoSlugCache) Get(slug string) (string, bool) {
	return r.c.Get(slug)
}

// Set is applied asynchronously, a following Get may still miss
func (r *RistrettoSlugCache) Set(slug, tenantID string) {
	r.c.SetWithTTL(slug, tenantID, 1, r.ttl)
}

func (r *RistrettoSlugCache) Delete(slug string) {
	r.c.Del(slug)
}

// Wait blocks until pending writes are visible
func (r *RistrettoSlugCache) Wait() {
	r.c.Wait()
}

func (r *RistrettoSlugCache) Close() {
	r.c.Close()
}
