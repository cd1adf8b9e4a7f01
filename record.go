// Package qerrors is an intelligent error-analysis middleware: application
// code hands it a captured error with request context, and it synchronously
// logs a structured record, asynchronously consults an LLM for remediation
// advice, and memoises that advice so recurring errors never pay the LLM
// cost twice.
//
// This file holds the data model spec.md §3 describes; the constructing
// components live in their own packages (sanitize, collections,
// fingerprint, llmclient, pipeline, and so on) and are wired together by
// engine.Engine in engine/engine.go.
package qerrors

import (
	"context"
	"time"

	"github.com/qerrors/qerrors/errors"
)

// ErrorRecord is an immutable snapshot of a captured error, ready to be
// logged, fingerprinted, and (asynchronously) analysed.
type ErrorRecord struct {
	// Name is the error class or kind (e.g. "DBError").
	Name string `json:"name"`
	// Message is the error message, already passed through the sanitiser.
	Message string `json:"message"`
	// Stack is an ordered sequence of frames, optionally truncated.
	Stack []string `json:"stack,omitempty"`
	// Severity defaults to SeverityHigh when unset.
	Severity errors.Severity `json:"severity"`
	// RequestID is an opaque correlation ID, may be empty.
	RequestID string `json:"requestId,omitempty"`
	// Context is sanitised, bounded request context; may be nil.
	Context map[string]interface{} `json:"context,omitempty"`
	// Timestamp is when the record was constructed.
	Timestamp time.Time `json:"timestamp"`

	// fingerprint memoises Fingerprint(r) so it's computed once per record.
	fingerprint string
}

// WithFingerprint returns a copy of r with its fingerprint memoised. Pure
// components (fingerprint.Compute) compute the hash; this just attaches
// it, keeping ErrorRecord itself free of a hashing dependency.
func (r ErrorRecord) WithFingerprint(fp string) ErrorRecord {
	r.fingerprint = fp
	return r
}

// Fingerprint returns the memoised fingerprint, or "" if it hasn't been
// computed yet.
func (r ErrorRecord) Fingerprint() string { return r.fingerprint }

// EffectiveSeverity returns r.Severity, defaulting to SeverityHigh per
// spec.md §3.
func (r ErrorRecord) EffectiveSeverity() errors.Severity {
	if r.Severity == "" {
		return errors.SeverityHigh
	}
	return r.Severity
}

// Advice is the LLM-generated diagnosis/remediation pair associated with an
// error fingerprint. It is immutable once constructed.
type Advice struct {
	Diagnosis   string    `json:"diagnosis"`
	Remediation string    `json:"remediation"`
	Confidence  *float64  `json:"confidence,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`

	// SerializedBytes is the size the advice cache charges against its byte
	// budget; set by the caller (typically len(json-encoded Advice)).
	SerializedBytes int `json:"-"`
}

// Size implements collections.Sizer so an Advice can be stored directly in
// a byte-budgeted collections.LRU.
func (a Advice) Size() int { return a.SerializedBytes }

// FallbackAdvice is the synthetic advice spec.md §4.7 returns when analysis
// is unavailable (CircuitOpen, RateLimited, UpstreamError, ParseError). It
// is never cached.
func FallbackAdvice() Advice {
	return Advice{
		Diagnosis:   "analysis unavailable",
		Remediation: "see logs",
		GeneratedAt: time.Now(),
	}
}

// AnalysisRequest is a queued unit of work: an ErrorRecord plus the
// bookkeeping the bounded queue and worker pool need to cancel it.
type AnalysisRequest struct {
	Record     ErrorRecord
	EnqueuedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAnalysisRequest builds an AnalysisRequest with a per-item deadline
// derived from parent.
func NewAnalysisRequest(parent context.Context, record ErrorRecord, timeout time.Duration) *AnalysisRequest {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return &AnalysisRequest{
		Record:     record,
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context returns the request's cancellable context.
func (a *AnalysisRequest) Context() context.Context { return a.ctx }

// Cancel aborts the request; safe to call multiple times.
func (a *AnalysisRequest) Cancel() { a.cancel() }

// LogEntry is a single structured log line, per spec.md §3.
type LogEntry struct {
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Timestamp time.Time              `json:"ts"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}
