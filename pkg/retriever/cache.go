package retriever

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// serpCacheEntry holds a cached SERP fan-out result with a timestamp for
// TTL expiration.
type serpCacheEntry struct {
	results   []models.SERPResult
	fetchedAt time.Time
}

// serpCache is a thread-safe in-memory cache with TTL expiration, keyed by
// (query, engines, time_range, serp_max_pages) per spec §4.4 step 6.
// Expired entries are cleaned up lazily on Get — no background goroutine.
type serpCache struct {
	mu      sync.RWMutex
	entries map[string]*serpCacheEntry
	ttl     time.Duration
}

// newSERPCache creates a new cache with the given TTL.
func newSERPCache(ttl time.Duration) *serpCache {
	return &serpCache{
		entries: make(map[string]*serpCacheEntry),
		ttl:     ttl,
	}
}

// serpCacheKey builds a stable cache key from the fan-out parameters.
func serpCacheKey(query string, engines []string, timeRange string, serpMaxPages int) string {
	sorted := append([]string(nil), engines...)
	sort.Strings(sorted)
	raw := fmt.Sprintf("%s|%s|%s|%d", query, strings.Join(sorted, ","), timeRange, serpMaxPages)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns cached SERP results if present and not expired.
func (c *serpCache) Get(key string) ([]models.SERPResult, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.fetchedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.results, true
}

// Set stores SERP results with the current timestamp.
func (c *serpCache) Set(key string, results []models.SERPResult) {
	c.mu.Lock()
	c.entries[key] = &serpCacheEntry{
		results:   results,
		fetchedAt: time.Now(),
	}
	c.mu.Unlock()
}
