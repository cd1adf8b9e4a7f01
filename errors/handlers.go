// Package errors: panic recovery middleware and logging helpers.
package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and recovers from panics during
// request processing: it logs the panic with its stack trace and writes a
// QError of Kind Internal to the client, carrying the request's ID.
//
// Example usage:
//
//	router.Use(errors.ErrorHandler(logger))
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", stack),
						zap.String(RequestIDKey, r.Header.Get("X-Request-ID")),
					)

					qerr := NewInternalError(r.Header.Get("X-Request-ID"), nil)
					Respond(w, r, qerr)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs err with its QError context if available, falling back to
// a generic log line for plain errors.
func LogError(logger *zap.Logger, err error, requestID string) {
	var qerr *QError
	if As(err, &qerr) {
		logger.Error("request error",
			zap.String("kind", string(qerr.Kind)),
			zap.String("message", qerr.Message),
			zap.Int("status", qerr.Status()),
			zap.String(RequestIDKey, requestID),
			zap.Any("details", qerr.Details),
		)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String(RequestIDKey, requestID),
	)
}
