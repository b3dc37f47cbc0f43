package gateway

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheEntry holds the last good GET body for a URL and its validator.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// cacheAge reports how old a cached body is, rounded to the second.
func cacheAge(now time.Time, e cacheEntry) string {
	if e.UpdatedAt.IsZero() {
		return "unknown"
	}
	return now.Sub(e.UpdatedAt).Round(time.Second).String()
}

// responseCache is a size and age bounded map from URL to cacheEntry.
type responseCache struct {
	lru *expirable.LRU[string, cacheEntry]
}

func newResponseCache(size int, ttl time.Duration) *responseCache {
	return &responseCache{lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl)}
}

func (c *responseCache) get(url string) (cacheEntry, bool) {
	if c == nil {
		return cacheEntry{}, false
	}
	return c.lru.Get(url)
}

func (c *responseCache) put(url string, e cacheEntry) {
	if c == nil {
		return
	}
	c.lru.Add(url, e)
}

// purge drops everything; called after any successful mutation since the
// backend's lists can no longer be trusted.
func (c *responseCache) purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *responseCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
