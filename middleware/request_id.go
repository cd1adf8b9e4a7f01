// Package middleware is the public entry point for qerrors (C9): an HTTP
// middleware plus a framework-agnostic Report function that both build an
// ErrorRecord, log it, respond to the caller, and enqueue it for
// asynchronous analysis.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key RequestID stores the request ID under,
// and the key requestIDFrom reads it back from.
const RequestIDKey contextKey = "request_id"

// RequestID assigns a UUID to every request that doesn't already carry an
// X-Request-ID header, echoing it back in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFrom extracts the request ID stashed by RequestID, or "" if
// none is present.
func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
