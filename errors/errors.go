// Package errors provides qerrors' error taxonomy, HTTP response shaping,
// and integrated logging with Uber's zap logger.
//
// It offers:
//
//   - A typed error Kind (spec.md §7's taxonomy: not Go types, but tagged
//     variants so callers can branch on failure class without type switches).
//   - Content-negotiated JSON/HTML error responses.
//   - Request ID propagation and panic-recovery middleware.
//
// Basic usage:
//
//	qerr := errors.NewValidationError(requestID, "missing field: name", nil)
//	errors.Respond(w, r, qerr)
package errors

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultLogger is the zap logger instance used by package-level helpers
// that don't take an explicit logger. It is overridable via SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger overrides DefaultLogger. A nil argument is ignored so callers
// can't accidentally disable logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// Kind is the error taxonomy from spec.md §7: failure *class*, not a Go
// type, so the pipeline and middleware can branch on it without a type
// switch.
type Kind string

const (
	// Validation - bad input from the caller; 400-class response.
	Validation Kind = "validation"
	// Upstream - the LLM endpoint itself failed; retried, then fallback advice.
	Upstream Kind = "upstream"
	// RateLimited - the outbound token bucket had no capacity.
	RateLimited Kind = "rate_limited"
	// CircuitOpen - the circuit breaker is shedding calls to the upstream.
	CircuitOpen Kind = "circuit_open"
	// Timeout - an operation exceeded its deadline.
	Timeout Kind = "timeout"
	// Cancelled - the caller's context was cancelled.
	Cancelled Kind = "cancelled"
	// Internal - a bug in qerrors itself; never propagates past the
	// middleware boundary.
	Internal Kind = "internal"
	// ParseError - the upstream response body didn't parse as expected.
	ParseError Kind = "parse_error"
)

// Severity is an ErrorRecord's severity, per spec.md §3.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// StatusForSeverity maps severity to an HTTP status per spec.md §4.9 step 3:
// critical/high -> 500, medium/low -> 400. Callers honour an explicit Code
// on QError before falling back to this mapping.
func StatusForSeverity(sev Severity) int {
	switch sev {
	case SeverityCritical, SeverityHigh:
		return 500
	default:
		return 400
	}
}

// QError is qerrors' error value: it carries an error Kind, an optional
// explicit HTTP status (Code), and enough context to both log and respond
// without the caller re-deriving anything.
type QError struct {
	// Kind categorizes the failure for branching and metrics.
	Kind Kind `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Code is an explicit HTTP status override; 0 means "derive from
	// Severity via StatusForSeverity".
	Code int `json:"-"`

	// Severity drives the default status mapping when Code is 0.
	Severity Severity `json:"-"`

	// RequestID links the error to a specific request, if known.
	RequestID string `json:"request_id,omitempty"`

	// Details carries additional structured context.
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the wrapped underlying error, if any.
	err error
}

// Error implements the error interface.
func (e *QError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error, for errors.Is/As chains.
func (e *QError) Unwrap() error {
	return e.err
}

// Is matches errors.Is by Kind only, ignoring message/details.
func (e *QError) Is(target error) bool {
	t, ok := target.(*QError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Status returns the HTTP status this error should be reported with.
func (e *QError) Status() int {
	if e.Code != 0 {
		return e.Code
	}
	if e.Severity != "" {
		return StatusForSeverity(e.Severity)
	}
	return 500
}

// NewError is the generic QError constructor. Typed helpers below (for the
// common kinds) exist for readability at call sites; this one lets any
// component construct a QError without qerrors needing a dedicated
// constructor per kind.
func NewError(kind Kind, message, requestID string, details map[string]interface{}, wrapped error) *QError {
	return &QError{
		Kind:      kind,
		Message:   message,
		RequestID: requestID,
		Details:   details,
		err:       wrapped,
	}
}
