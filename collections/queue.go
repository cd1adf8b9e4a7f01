package collections

import (
	"sync"
	"sync/atomic"

	equeue "github.com/eapache/queue/v2"
)

// BoundedQueue is a push/pop/peek/length queue bounded by both an entry
// count and an estimated total byte size, backed by eapache/queue/v2's
// ring buffer exactly as hapax's QueueMiddleware uses it for HTTP
// admission. Push beyond either limit is rejected unless DropOldest is set.
type BoundedQueue struct {
	mu         sync.RWMutex
	q          *equeue.Queue[interface{}]
	maxEntries atomic.Int64
	maxBytes   atomic.Int64
	totalBytes int64

	// DropOldest, when true, makes Push evict the oldest entry to make room
	// instead of rejecting the new one.
	DropOldest bool
}

// NewBoundedQueue builds a queue bounded by maxEntries and maxBytes (either
// may be 0 to mean "unbounded along that dimension").
func NewBoundedQueue(maxEntries, maxBytes int) *BoundedQueue {
	bq := &BoundedQueue{q: equeue.New[interface{}]()}
	bq.maxEntries.Store(int64(maxEntries))
	bq.maxBytes.Store(int64(maxBytes))
	return bq
}

// SetMaxEntries swaps the entry-count bound without touching queued items,
// matching hapax's QueueMiddleware.SetMaxSize semantics (spec.md's [NEW]
// config hot-reload note).
func (bq *BoundedQueue) SetMaxEntries(n int) { bq.maxEntries.Store(int64(n)) }

// Push appends value if capacity allows; ok is false (rejected) when the
// queue is at its entry or byte limit and DropOldest is false.
func (bq *BoundedQueue) Push(value interface{}) (ok bool) {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	bytes := int64(sizeOf(value))
	maxEntries := bq.maxEntries.Load()
	maxBytes := bq.maxBytes.Load()

	atCapacity := (maxEntries > 0 && int64(bq.q.Length()) >= maxEntries) ||
		(maxBytes > 0 && bq.totalBytes+bytes > maxBytes)

	if atCapacity {
		if !bq.DropOldest || bq.q.Length() == 0 {
			return false
		}
		bq.popLocked()
	}

	bq.q.Add(value)
	bq.totalBytes += bytes
	return true
}

// Pop removes and returns the oldest value; ok is false if the queue was
// empty.
func (bq *BoundedQueue) Pop() (value interface{}, ok bool) {
	bq.mu.Lock()
	defer bq.mu.Unlock()
	if bq.q.Length() == 0 {
		return nil, false
	}
	return bq.popLocked(), true
}

func (bq *BoundedQueue) popLocked() interface{} {
	v := bq.q.Peek()
	bq.q.Remove()
	bq.totalBytes -= int64(sizeOf(v))
	if bq.totalBytes < 0 {
		bq.totalBytes = 0
	}
	return v
}

// Peek returns the oldest value without removing it.
func (bq *BoundedQueue) Peek() (value interface{}, ok bool) {
	bq.mu.RLock()
	defer bq.mu.RUnlock()
	if bq.q.Length() == 0 {
		return nil, false
	}
	return bq.q.Peek(), true
}

// Len returns the current entry count.
func (bq *BoundedQueue) Len() int {
	bq.mu.RLock()
	defer bq.mu.RUnlock()
	return bq.q.Length()
}

// Bytes returns the current estimated byte size.
func (bq *BoundedQueue) Bytes() int64 {
	bq.mu.RLock()
	defer bq.mu.RUnlock()
	return bq.totalBytes
}
