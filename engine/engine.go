// Package engine wires every qerrors component (C1-C11) into the single
// object an application embeds: construct one with New, mount
// Engine.Middleware (or call Engine.Report directly for non-HTTP callers),
// and call Shutdown on the way out.
//
// This lives in its own package, separate from the root qerrors package
// that holds the data model (ErrorRecord, Advice, AnalysisRequest):
// analysisqueue, pipeline, and middleware all depend on those root types,
// so an Engine that imports analysisqueue/pipeline/middleware cannot also
// live in the root package without creating an import cycle.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	qerrors "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/analysisqueue"
	"github.com/qerrors/qerrors/config"
	"github.com/qerrors/qerrors/fingerprint"
	"github.com/qerrors/qerrors/httpapi"
	"github.com/qerrors/qerrors/llmclient"
	"github.com/qerrors/qerrors/logging"
	"github.com/qerrors/qerrors/metrics"
	"github.com/qerrors/qerrors/middleware"
	"github.com/qerrors/qerrors/pipeline"
)

// Engine wires every component (C1-C11) into the single object an
// application embeds: construct one with New, mount Engine.Middleware (or
// call Engine.Report directly for non-HTTP callers), and call Shutdown on
// the way out.
type Engine struct {
	cfg atomic.Value // *config.Config; read via Engine.config()

	logger  *logging.Logger
	metrics *metrics.Metrics
	cache   *fingerprint.AdviceCache
	client  *llmclient.Client
	queue   *analysisqueue.Queue
	rep     *middleware.Reporter
	api     *httpapi.API
}

// New builds an Engine from cfg, starting the analysis queue's worker
// pool. Callers must call Shutdown to drain it cleanly.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("qerrors: invalid configuration: %w", err)
	}

	m := metrics.New()

	log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		MaxDays: cfg.Logging.MaxDays,
		Verbose: cfg.Logging.Verbose,
		OnDrop:  func() { m.LogDrops.Inc() },
	})

	cache := fingerprint.NewAdviceCache(cfg.Cache.Limit, cfg.Cache.TTL, cfg.Cache.MaxAdviceBytes)
	cache.OnReject(func(fp string, bytes int) {
		log.Warn("advice rejected: exceeds MAX_ADVICE_SIZE", map[string]interface{}{
			"fingerprint": fp,
			"bytes":       bytes,
		})
	})

	client, err := llmclient.New(llmclient.Config{
		Endpoint:         cfg.Model.Endpoint,
		Model:            cfg.Model.Name,
		APIKey:           cfg.Model.APIKey,
		RequestTimeout:   cfg.HTTP.Timeout,
		RateTokensPerSec: cfg.HTTP.RateTokensPerSec,
		RateBurst:        cfg.HTTP.RateBurst,
		Retry: llmclient.RetryConfig{
			MaxRetries:   cfg.HTTP.MaxRetries,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
		CircuitErrorThreshold: cfg.Circuit.ErrorThreshold,
		CircuitResetTimeout:   cfg.Circuit.ResetTimeout,
		CircuitTestMode:       cfg.TestMode,
		Metrics:               m,
	}, func(err error) {
		log.Error("llm client error", map[string]interface{}{"error": err.Error()})
	})
	if err != nil {
		return nil, fmt.Errorf("qerrors: %w", err)
	}

	pl := pipeline.New(cache, client, m, cfg.Concurrency.Limit)

	queue := analysisqueue.New(analysisqueue.Config{
		Capacity: cfg.Queue.Limit,
		Workers:  cfg.Concurrency.Limit,
	}, pl, m)
	queue.Start()

	rep := middleware.New(log, m, queue)

	e := &Engine{
		logger:  log,
		metrics: m,
		cache:   cache,
		client:  client,
		queue:   queue,
		rep:     rep,
	}
	e.cfg.Store(cfg)
	e.api = httpapi.New(zap.NewNop(), m, rep, e)
	return e, nil
}

// config returns the current configuration snapshot, safe for concurrent
// reads against WatchConfig's writer goroutine.
func (e *Engine) config() *config.Config { return e.cfg.Load().(*config.Config) }

// Middleware wraps next with request-ID assignment and C9 panic recovery
// and reporting. This is the HTTP-framework signature spec.md §6 names.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return middleware.RequestID(e.rep.Handler(next))
}

// Report runs the C9 operation directly for a non-HTTP caller. It never
// panics.
func (e *Engine) Report(err error, requestID string, meta map[string]interface{}) {
	e.rep.Report(err, requestID, meta, nil, nil)
}

// Reporter exposes the underlying Reporter for callers that need the
// lower-level Handler/Report API directly.
func (e *Engine) Reporter() *middleware.Reporter { return e.rep }

// API exposes the HTTP surface (C11): GET /health, GET /metrics,
// POST /errors.
func (e *Engine) API() *httpapi.API { return e.api }

// GetAdvice is a synchronous cache probe: it returns previously computed
// advice for fingerprint without ever calling the upstream endpoint.
func (e *Engine) GetAdvice(fp string) (qerrors.Advice, bool) {
	v, ok := e.cache.Lookup(fp)
	if !ok {
		return qerrors.Advice{}, false
	}
	return v.(qerrors.Advice), true
}

// AnalyseAsync enqueues record for asynchronous analysis, subject to the
// queue's capacity and memory-pressure gates. It returns immediately;
// Engine.GetAdvice(fingerprint.Compute(...)) polls for the result once
// ready.
func (e *Engine) AnalyseAsync(record qerrors.ErrorRecord) error {
	return e.queue.Enqueue(record)
}

// FlushCaches clears the advice cache, forcing the next analysis of any
// fingerprint to consult the upstream endpoint again.
func (e *Engine) FlushCaches() {
	e.cache.Clear()
}

// Shutdown stops accepting new work, drains the analysis queue within
// ctx's deadline, and flushes the logger.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.queue.Shutdown(ctx)
	if closeErr := e.logger.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// QueueStats implements httpapi.HealthSource.
func (e *Engine) QueueStats() httpapi.QueueStats {
	return httpapi.QueueStats{Length: e.queue.Len(), Capacity: e.config().Queue.Limit}
}

// CircuitState implements httpapi.HealthSource.
func (e *Engine) CircuitState() string { return e.client.CircuitState() }

// MemoryHeapPercent implements httpapi.HealthSource.
func (e *Engine) MemoryHeapPercent() float64 { return analysisqueue.CurrentHeapPercent() }

// WatchConfig subscribes to w and, on every new snapshot, re-derives the
// outbound rate limiter and advice cache TTL without a process restart,
// per spec.md §5's hot-reload note. CONCURRENCY_LIMIT is not hot-reloaded:
// the worker pool and analysis semaphore are sized once at New and would
// need a pool rebuild to resize safely, which this method intentionally
// does not attempt. The returned function stops watching.
func (e *Engine) WatchConfig(w config.Watcher) (stop func()) {
	ch := w.Subscribe()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				e.applyConfig(cfg)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (e *Engine) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.client.SetRateLimit(cfg.HTTP.RateTokensPerSec, cfg.HTTP.RateBurst)
	e.cache.SetTTL(cfg.Cache.TTL)
	e.cfg.Store(cfg)
	e.logger.Info("configuration reloaded", map[string]interface{}{
		"http.rateTokensPerSec": cfg.HTTP.RateTokensPerSec,
		"http.rateBurst":        cfg.HTTP.RateBurst,
		"cache.ttl":             cfg.Cache.TTL.String(),
	})
}
