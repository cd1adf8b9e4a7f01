package errors

import "net/http"

// NewValidationError creates a QError for bad caller input.
func NewValidationError(requestID, message string, details map[string]interface{}) *QError {
	return &QError{
		Kind:      Validation,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   details,
	}
}

// NewRateLimitError creates a QError for an exhausted token bucket.
func NewRateLimitError(requestID string, retryAfterSeconds int) *QError {
	return &QError{
		Kind:      RateLimited,
		Message:   "rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfterSeconds,
		},
	}
}

// NewCircuitOpenError creates a QError for a short-circuited upstream call.
func NewCircuitOpenError(requestID string) *QError {
	return &QError{
		Kind:      CircuitOpen,
		Message:   "circuit breaker open",
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
	}
}

// NewUpstreamError creates a QError wrapping an LLM endpoint failure.
func NewUpstreamError(requestID, message string, status int, err error) *QError {
	return &QError{
		Kind:      Upstream,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		Details:   map[string]interface{}{"upstream_status": status},
		err:       err,
	}
}

// NewParseErrorErr creates a QError for an upstream response that failed to
// parse as the expected advice shape.
func NewParseErrorErr(requestID string, err error) *QError {
	return &QError{
		Kind:      ParseError,
		Message:   "failed to parse upstream response",
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewTimeoutError creates a QError for a deadline exceeded.
func NewTimeoutError(requestID string) *QError {
	return &QError{
		Kind:      Timeout,
		Message:   "operation timed out",
		Code:      http.StatusGatewayTimeout,
		RequestID: requestID,
	}
}

// NewCancelledError creates a QError for a caller-cancelled operation.
func NewCancelledError(requestID string) *QError {
	return &QError{
		Kind:      Cancelled,
		Message:   "operation cancelled",
		Code:      http.StatusRequestTimeout,
		RequestID: requestID,
	}
}

// NewInternalError creates a QError for a bug in qerrors itself. Per
// spec.md §7 these never propagate past the middleware boundary unmasked.
func NewInternalError(requestID string, err error) *QError {
	return &QError{
		Kind:      Internal,
		Message:   "an internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
