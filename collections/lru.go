// Package collections provides the four size/memory-capped building blocks
// spec.md §4.4 calls for: an LRU cache, a bounded queue, a bounded set, and
// a circular buffer. BoundedQueue uses the concurrency idiom hapax's
// server/middleware/queue.go uses for its queue (an eapache/queue/v2-backed
// ring guarded by a sync.RWMutex, with atomic bounds); LRU and BoundedSet
// are container/list plus a map under a sync.Mutex, and Ring is a plain
// slice under a sync.Mutex.
package collections

import (
	"container/list"
	"sync"
	"time"
)

// Sizer optionally reports the byte cost an LRU entry should be charged
// against the cache's byte budget. Values that don't implement it are
// charged a nominal cost of 1.
type Sizer interface {
	Size() int
}

type lruEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	bytes     int
}

// LRU is a get/set/has/delete/clear cache with per-entry TTL and a total
// byte budget, evicting expired entries first and then least-recently-used
// ones until both the entry cap and the byte cap hold.
type LRU struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	ttl        time.Duration
	totalBytes int
	ll         *list.List
	items      map[string]*list.Element
}

// NewLRU builds an LRU bounded by maxEntries and maxBytes (0 = unbounded
// byte budget) with defaultTTL applied to entries that don't specify one
// via SetWithTTL.
func NewLRU(maxEntries, maxBytes int, defaultTTL time.Duration) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        defaultTTL,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// SetDefaultTTL changes the TTL applied to future Set calls (existing
// entries keep whatever TTL they were stored with). Used for hot-reloading
// CACHE_TTL_MS without rebuilding the cache.
func (l *LRU) SetDefaultTTL(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
}

func sizeOf(v interface{}) int {
	if s, ok := v.(Sizer); ok {
		return s.Size()
	}
	return 1
}

// Get returns the value for key if present and unexpired, refreshing its
// recency. An expired entry is evicted and reported as a miss.
func (l *LRU) Get(key string) (interface{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		l.removeElement(el)
		return nil, false
	}
	l.ll.MoveToFront(el)
	return e.value, true
}

// Has reports presence without affecting recency or evicting on expiry.
func (l *LRU) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*lruEntry)
	return e.expiresAt.IsZero() || !time.Now().After(e.expiresAt)
}

// Set stores value under key with the cache's default TTL.
func (l *LRU) Set(key string, value interface{}) {
	l.SetWithTTL(key, value, l.ttl)
}

// SetWithTTL stores value under key with an explicit TTL (0 = no expiry).
func (l *LRU) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bytes := sizeOf(value)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if el, ok := l.items[key]; ok {
		old := el.Value.(*lruEntry)
		l.totalBytes += bytes - old.bytes
		old.value = value
		old.bytes = bytes
		old.expiresAt = expiresAt
		l.ll.MoveToFront(el)
	} else {
		e := &lruEntry{key: key, value: value, expiresAt: expiresAt, bytes: bytes}
		el := l.ll.PushFront(e)
		l.items[key] = el
		l.totalBytes += bytes
	}

	l.evict()
}

// Delete removes key if present.
func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		l.removeElement(el)
	}
}

// Clear empties the cache.
func (l *LRU) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ll.Init()
	l.items = make(map[string]*list.Element)
	l.totalBytes = 0
}

// Len returns the current entry count, including expired entries that
// haven't been evicted yet (no Get or Set has touched them since expiry).
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

// Bytes returns the current total byte charge.
func (l *LRU) Bytes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalBytes
}

func (l *LRU) removeElement(el *list.Element) {
	e := el.Value.(*lruEntry)
	l.ll.Remove(el)
	delete(l.items, e.key)
	l.totalBytes -= e.bytes
}

// evict drops expired entries, then least-recently-used ones, until both
// the entry cap and byte cap hold. Must be called with l.mu held.
func (l *LRU) evict() {
	now := time.Now()
	for el := l.ll.Back(); el != nil; {
		e := el.Value.(*lruEntry)
		prev := el.Prev()
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			l.removeElement(el)
		}
		el = prev
	}

	for (l.maxEntries > 0 && l.ll.Len() > l.maxEntries) ||
		(l.maxBytes > 0 && l.totalBytes > l.maxBytes) {
		back := l.ll.Back()
		if back == nil {
			break
		}
		l.removeElement(back)
	}
}
