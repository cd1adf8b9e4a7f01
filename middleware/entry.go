package middleware

import (
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	qerrors "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/analysisqueue"
	"github.com/qerrors/qerrors/collections"
	"github.com/qerrors/qerrors/errors"
	"github.com/qerrors/qerrors/logging"
	"github.com/qerrors/qerrors/metrics"
	"github.com/qerrors/qerrors/sanitize"
)

// Reporter is the public C9 operation: it sanitises and logs a captured
// error, responds to an in-flight HTTP request if one is given, and
// enqueues the record for asynchronous analysis. It never panics.
type Reporter struct {
	logger    *logging.Logger
	metrics   *metrics.Metrics
	queue     *analysisqueue.Queue
	rateLimit *fingerprintLimiter
}

// New builds a Reporter. log, m, and q may all be nil in degraded/test
// configurations; every nil is handled gracefully.
func New(log *logging.Logger, m *metrics.Metrics, q *analysisqueue.Queue) *Reporter {
	return &Reporter{
		logger:    log,
		metrics:   m,
		queue:     q,
		rateLimit: newFingerprintLimiter(5, 5),
	}
}

// Handler wraps next with panic recovery and error reporting for an HTTP
// server: a downstream panic is recovered, reported, and turned into a
// 500 response instead of crashing the process.
func (rep *Reporter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				requestID := requestIDFrom(r.Context())
				err := fmt.Errorf("panic: %v\n%s", p, debug.Stack())
				rep.Report(err, requestID, nil, w, r)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Report runs the full C9 operation for a captured error: it is safe to
// call from an HTTP handler (pass w, r) or from a non-HTTP caller (pass
// nil, nil and supply context via meta).
func (rep *Reporter) Report(err error, requestID string, meta map[string]interface{}, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			fmt.Fprintf(os.Stderr, "qerrors middleware: recovered from internal panic: %v\n", p)
		}
	}()

	record := rep.buildRecord(err, requestID, meta, r)

	if rep.metrics != nil {
		rep.metrics.ErrorsTotal.Inc()
		rep.metrics.ErrorsBySeverity.WithLabelValues(string(record.EffectiveSeverity())).Inc()
	}

	rep.logSync(record)

	if w != nil && r != nil {
		rep.respond(w, r, record)
	}

	rep.enqueue(record)
}

// reportedFields lets a caller-supplied error override the name/severity/
// stack buildRecord would otherwise synthesise from its own capture point —
// e.g. httpapi's POST /errors adapter, which already knows the caller's
// declared severity and stack.
type reportedFields interface {
	ReportName() string
	ReportSeverity() errors.Severity
	ReportStack() []string
}

func (rep *Reporter) buildRecord(err error, requestID string, meta map[string]interface{}, r *http.Request) qerrors.ErrorRecord {
	name := "Error"
	severity := errors.SeverityHigh
	var stack []string

	var qe *errors.QError
	if errors.As(err, &qe) {
		name = string(qe.Kind)
		severity = qe.Severity
	}

	if rf, ok := err.(reportedFields); ok {
		if n := rf.ReportName(); n != "" {
			name = n
		}
		if s := rf.ReportSeverity(); s != "" {
			severity = s
		}
		if st := rf.ReportStack(); st != nil {
			stack = st
		}
	}
	if severity == "" {
		severity = errors.SeverityHigh
	}

	message := sanitize.SanitiseString(err.Error())

	var sanitisedMeta map[string]interface{}
	if meta != nil {
		if obj, ok := sanitize.SanitiseObject(meta).(map[string]interface{}); ok {
			sanitisedMeta = obj
		}
	}

	if requestID == "" && r != nil {
		requestID = requestIDFrom(r.Context())
	}

	if stack == nil {
		stack = []string{firstLine(string(debug.Stack()))}
	}

	return qerrors.ErrorRecord{
		Name:      name,
		Message:   message,
		Stack:     stack,
		Severity:  severity,
		RequestID: requestID,
		Context:   sanitisedMeta,
		Timestamp: time.Now(),
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func (rep *Reporter) logSync(record qerrors.ErrorRecord) {
	if rep.logger == nil {
		return
	}
	meta := map[string]interface{}{"name": record.Name}
	for k, v := range record.Context {
		meta[k] = v
	}
	rep.logger.Error(record.Message, meta)
}

func (rep *Reporter) respond(w http.ResponseWriter, r *http.Request, record qerrors.ErrorRecord) {
	qe := &errors.QError{
		Kind:      errors.Internal,
		Message:   record.Message,
		Severity:  record.Severity,
		RequestID: record.RequestID,
	}
	errors.Respond(w, r, qe)
}

func (rep *Reporter) enqueue(record qerrors.ErrorRecord) {
	if rep.queue == nil {
		return
	}
	fp := record.Fingerprint()
	if fp == "" {
		fp = record.Name + "|" + record.Message
	}
	if !rep.rateLimit.Allow(fp) {
		if rep.metrics != nil {
			rep.metrics.RateLimitHits.Inc()
		}
		return
	}
	// Rejections are counted by analysisqueue itself, by reason.
	_ = rep.queue.Enqueue(record)
}

// fingerprintLimiter is a per-fingerprint token bucket (default 5
// tokens/min, burst 5) built on collections.LRU: one bucket per
// fingerprint, at most 10000 buckets tracked (least-recently-used evicted
// beyond that), each expiring after an hour without use.
type fingerprintLimiter struct {
	buckets *collections.LRU
	rate    float64 // tokens per second
	burst   float64
}

type tokenBucketState struct {
	tokens    float64
	updatedAt time.Time
}

func (s tokenBucketState) Size() int { return 1 }

func newFingerprintLimiter(perMinute, burst int) *fingerprintLimiter {
	return &fingerprintLimiter{
		buckets: collections.NewLRU(10000, 0, time.Hour),
		rate:    float64(perMinute) / 60.0,
		burst:   float64(burst),
	}
}

func (l *fingerprintLimiter) Allow(fingerprint string) bool {
	now := time.Now()
	var state tokenBucketState
	if v, ok := l.buckets.Get(fingerprint); ok {
		state = v.(tokenBucketState)
	} else {
		state = tokenBucketState{tokens: l.burst, updatedAt: now}
	}

	elapsed := now.Sub(state.updatedAt).Seconds()
	state.tokens += elapsed * l.rate
	if state.tokens > l.burst {
		state.tokens = l.burst
	}
	state.updatedAt = now

	allowed := state.tokens >= 1
	if allowed {
		state.tokens--
	}
	l.buckets.Set(fingerprint, state)
	return allowed
}
