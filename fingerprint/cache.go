package fingerprint

import (
	"time"

	"github.com/qerrors/qerrors/collections"
)

// AdviceCache memoises fingerprint -> advice lookups so a recurring error
// only triggers one LLM round trip. It rejects oversize entries rather
// than let one verbose diagnosis blow the cache's memory budget.
type AdviceCache struct {
	lru            *collections.LRU
	maxAdviceBytes int
	onReject       func(fingerprint string, bytes int)
}

// Advice is anything the cache can store: a diagnosis/remediation pair
// that knows its own serialised size. qerrors.Advice implements this.
type Advice interface {
	collections.Sizer
}

// NewAdviceCache builds a cache holding up to maxEntries advices, evicted
// by TTL or LRU recency, and rejecting any single entry larger than
// maxAdviceBytes.
func NewAdviceCache(maxEntries int, ttl time.Duration, maxAdviceBytes int) *AdviceCache {
	return &AdviceCache{
		lru:            collections.NewLRU(maxEntries, 0, ttl),
		maxAdviceBytes: maxAdviceBytes,
	}
}

// OnReject registers a callback invoked whenever Store rejects an
// oversize entry, so the caller can log it.
func (c *AdviceCache) OnReject(fn func(fingerprint string, bytes int)) {
	c.onReject = fn
}

// Lookup returns the cached advice for fp, or (nil, false) on miss or
// expiry.
func (c *AdviceCache) Lookup(fp string) (interface{}, bool) {
	return c.lru.Get(fp)
}

// Store inserts advice under fp unless its serialised size exceeds the
// configured budget, in which case it is dropped and onReject (if set)
// is invoked.
func (c *AdviceCache) Store(fp string, advice Advice) {
	if c.maxAdviceBytes > 0 && advice.Size() > c.maxAdviceBytes {
		if c.onReject != nil {
			c.onReject(fp, advice.Size())
		}
		return
	}
	c.lru.Set(fp, advice)
}

// SetTTL changes the TTL applied to entries stored after this call, for
// hot-reloading CACHE_TTL_MS without rebuilding the cache.
func (c *AdviceCache) SetTTL(ttl time.Duration) { c.lru.SetDefaultTTL(ttl) }

// Len reports the number of cached entries.
func (c *AdviceCache) Len() int { return c.lru.Len() }

// Bytes reports the total size charged against the advice cache's byte
// budget, for the cache.bytes gauge.
func (c *AdviceCache) Bytes() int { return c.lru.Bytes() }

// Clear empties the cache, used by Engine.FlushCaches.
func (c *AdviceCache) Clear() { c.lru.Clear() }
