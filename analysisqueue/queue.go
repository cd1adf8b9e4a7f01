// Package analysisqueue is the bounded queue and worker pool in front of
// the analysis pipeline (C8): it gates admission on both queue capacity
// and process memory pressure, then fans queued items out to a small
// worker pool that runs pipeline.Analyse with a per-item timeout.
package analysisqueue

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	qerrors "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/collections"
	"github.com/qerrors/qerrors/metrics"
)

// Memory pressure tiers per spec.md §4.8: low <60, medium <75, high <90,
// critical >=90. Only the high/critical boundaries change admission
// behavior; low/medium are informational (surfaced via the
// memory.heapUsedPercent gauge).
const (
	memHighFloor     = 75
	memCriticalFloor = 90

	defaultItemTimeout   = 30 * time.Second
	defaultShutdownGrace = 10 * time.Second
)

// Analyser is the subset of pipeline.Pipeline the queue depends on.
type Analyser interface {
	Analyse(ctx context.Context, record qerrors.ErrorRecord) (qerrors.Advice, error)
}

// RejectReason identifies why Enqueue refused an item.
type RejectReason string

const (
	RejectCapacity RejectReason = "capacity"
	RejectMemory   RejectReason = "memory"
)

// ErrQueueFull is returned by Enqueue when an item is rejected.
type ErrQueueFull struct{ Reason RejectReason }

func (e ErrQueueFull) Error() string { return fmt.Sprintf("queue full: %s", e.Reason) }

// Config configures a Queue.
type Config struct {
	Capacity         int
	Workers          int
	ItemTimeout      time.Duration
	ShutdownGrace    time.Duration
	HeapStatsFn      func() (used, total uint64) // overridable for tests
}

// Queue is the C8 bounded queue plus worker pool.
type Queue struct {
	cfg      Config
	pipeline Analyser
	metrics  *metrics.Metrics
	items    *collections.BoundedQueue

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	accepting atomic.Bool
	draining  atomic.Bool
}

// New builds a Queue; call Start to begin running workers.
func New(cfg Config, p Analyser, m *metrics.Metrics) *Queue {
	if cfg.Capacity < 1 {
		cfg.Capacity = 200
	}
	if cfg.Workers < 1 {
		cfg.Workers = 5
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaultItemTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.HeapStatsFn == nil {
		cfg.HeapStatsFn = readHeapStats
	}

	q := &Queue{
		cfg:      cfg,
		pipeline: p,
		metrics:  m,
		items:    collections.NewBoundedQueue(cfg.Capacity, 0),
		wakeCh:   make(chan struct{}, cfg.Workers),
		stopCh:   make(chan struct{}),
	}
	q.accepting.Store(true)
	return q
}

func readHeapStats() (used, total uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse, ms.HeapSys
}

func heapUsedPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Enqueue admits record for asynchronous analysis, subject to the memory
// pressure gate and the capacity gate.
func (q *Queue) Enqueue(record qerrors.ErrorRecord) error {
	if !q.accepting.Load() {
		return ErrQueueFull{Reason: RejectCapacity}
	}

	used, total := q.cfg.HeapStatsFn()
	pct := heapUsedPercent(used, total)
	if q.metrics != nil {
		q.metrics.MemoryHeapPercent.Set(pct)
	}

	effectiveCapacity := q.cfg.Capacity
	switch {
	case pct >= memCriticalFloor:
		if q.metrics != nil {
			q.metrics.QueueRejectMemory.Inc()
		}
		return ErrQueueFull{Reason: RejectMemory}
	case pct >= memHighFloor:
		effectiveCapacity = q.cfg.Capacity / 2
		if effectiveCapacity < 1 {
			effectiveCapacity = 1
		}
	}

	if q.items.Len() >= effectiveCapacity {
		if q.metrics != nil {
			q.metrics.QueueRejectCapacity.Inc()
		}
		return ErrQueueFull{Reason: RejectCapacity}
	}

	req := qerrors.NewAnalysisRequest(context.Background(), record, q.cfg.ItemTimeout)
	if !q.items.Push(req) {
		if q.metrics != nil {
			q.metrics.QueueRejectCapacity.Inc()
		}
		return ErrQueueFull{Reason: RejectCapacity}
	}

	if q.metrics != nil {
		q.metrics.QueueLength.Set(float64(q.items.Len()))
	}

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			q.drainRemaining()
			return
		case <-q.wakeCh:
			q.drainOnce()
		case <-time.After(50 * time.Millisecond):
			q.drainOnce()
		}
	}
}

func (q *Queue) drainOnce() {
	v, ok := q.items.Pop()
	if !ok {
		return
	}
	req := v.(*qerrors.AnalysisRequest)
	q.process(req)
	if q.metrics != nil {
		q.metrics.QueueLength.Set(float64(q.items.Len()))
	}
}

func (q *Queue) drainRemaining() {
	if !q.draining.Load() {
		return
	}
	deadline := time.Now().Add(q.cfg.ShutdownGrace)
	for time.Now().Before(deadline) {
		v, ok := q.items.Pop()
		if !ok {
			return
		}
		req := v.(*qerrors.AnalysisRequest)
		q.process(req)
	}
	for {
		v, ok := q.items.Pop()
		if !ok {
			return
		}
		req := v.(*qerrors.AnalysisRequest)
		req.Cancel()
	}
}

func (q *Queue) process(req *qerrors.AnalysisRequest) {
	defer req.Cancel()
	_, err := q.pipeline.Analyse(req.Context(), req.Record)
	_ = err // not re-raised: pipeline.Analyse already turns degradable failures into fallback advice, and llmclient counts upstream failures in metrics
}

// Shutdown stops accepting new items, drains the remaining queue with a
// bounded grace period, then cancels anything left.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.accepting.Store(false)
	q.draining.Store(true)
	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of queued (not yet picked up) items.
func (q *Queue) Len() int { return q.items.Len() }

// CurrentHeapPercent reports the process's current heap-used percentage
// using the same stdlib runtime stats the memory pressure gate reads,
// so callers (e.g. the /health route) observe the identical figure.
func CurrentHeapPercent() float64 {
	used, total := readHeapStats()
	return heapUsedPercent(used, total)
}
