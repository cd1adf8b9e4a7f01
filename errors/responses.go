// Package errors: response shaping.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const RequestIDKey = "request_id"

// ErrorResponse is the JSON body shape spec.md §4.9 step 3 describes:
// {error:{name,message,requestId?}, severity}.
type ErrorResponse struct {
	Error    ErrorBody `json:"error"`
	Severity Severity  `json:"severity,omitempty"`
}

// ErrorBody is the nested "error" object of ErrorResponse.
type ErrorBody struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// As wraps errors.As for callers that don't want to import "errors" too.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Respond writes e to w, content-negotiated from r's Accept header:
// "application/json" (default) produces the JSON ErrorResponse shape;
// "text/html" produces a minimal HTML body with entities escaped, per
// spec.md scenario S5.
func Respond(w http.ResponseWriter, r *http.Request, e *QError) {
	accept := ""
	if r != nil {
		accept = r.Header.Get("Accept")
	}

	body := ErrorResponse{
		Error: ErrorBody{
			Name:      string(e.Kind),
			Message:   e.Message,
			RequestID: e.RequestID,
		},
		Severity: e.Severity,
	}

	if strings.Contains(accept, "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(e.Status())
		fmt.Fprintf(w, "<!doctype html><html><body><h1>%s</h1><p>%s</p></body></html>",
			html.EscapeString(body.Error.Name), html.EscapeString(body.Error.Message))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError is a drop-in replacement for http.Error that writes a QError
// of Kind Internal with the given message and status, content-negotiated
// from r's Accept header like Respond, and carrying the response's own
// X-Request-ID header as the request ID if set.
func WriteError(w http.ResponseWriter, r *http.Request, message string, status int) {
	e := &QError{
		Kind:      Internal,
		Message:   message,
		Code:      status,
		RequestID: w.Header().Get("X-Request-ID"),
	}
	Respond(w, r, e)
}
