package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNewValidationError(t *testing.T) {
	requestID := "test-456"
	message := "invalid input"
	details := map[string]interface{}{
		"field": "email",
		"error": "invalid format",
	}

	err := NewValidationError(requestID, message, details)

	if err.Kind != Validation {
		t.Errorf("Expected kind %v, got %v", Validation, err.Kind)
	}
	if err.Message != message {
		t.Errorf("Expected message %v, got %v", message, err.Message)
	}
	if err.Code != http.StatusBadRequest {
		t.Errorf("Expected code %v, got %v", http.StatusBadRequest, err.Code)
	}
	if err.RequestID != requestID {
		t.Errorf("Expected requestID %v, got %v", requestID, err.RequestID)
	}
	if err.Details["field"] != details["field"] {
		t.Errorf("Expected details field %v, got %v", details["field"], err.Details["field"])
	}
}

func TestNewRateLimitError(t *testing.T) {
	requestID := "test-789"
	retryAfter := 60

	err := NewRateLimitError(requestID, retryAfter)

	if err.Kind != RateLimited {
		t.Errorf("Expected kind %v, got %v", RateLimited, err.Kind)
	}
	if err.Code != http.StatusTooManyRequests {
		t.Errorf("Expected code %v, got %v", http.StatusTooManyRequests, err.Code)
	}
	if err.Details["retry_after"] != retryAfter {
		t.Errorf("Expected retry_after %v, got %v", retryAfter, err.Details["retry_after"])
	}
}

func TestNewCircuitOpenError(t *testing.T) {
	err := NewCircuitOpenError("req-1")
	if err.Kind != CircuitOpen {
		t.Errorf("Expected kind %v, got %v", CircuitOpen, err.Kind)
	}
	if err.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected code %v, got %v", http.StatusServiceUnavailable, err.Code)
	}
}

func TestNewUpstreamError(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewUpstreamError("req-2", "upstream failed", 503, inner)
	if err.Kind != Upstream {
		t.Errorf("Expected kind %v, got %v", Upstream, err.Kind)
	}
	if err.Details["upstream_status"] != 503 {
		t.Errorf("Expected upstream_status 503, got %v", err.Details["upstream_status"])
	}
	if err.Unwrap() != inner {
		t.Errorf("Expected inner error %v, got %v", inner, err.Unwrap())
	}
}

func TestNewInternalError(t *testing.T) {
	err := NewInternalError("req-3", nil)
	if err.Kind != Internal {
		t.Errorf("Expected kind %v, got %v", Internal, err.Kind)
	}
	if err.Code != http.StatusInternalServerError {
		t.Errorf("Expected code %v, got %v", http.StatusInternalServerError, err.Code)
	}
}

func TestNewError_Generic(t *testing.T) {
	err := NewError(Timeout, "took too long", "req-4", nil, nil)
	if err.Kind != Timeout {
		t.Errorf("Expected kind %v, got %v", Timeout, err.Kind)
	}
	if err.Message != "took too long" {
		t.Errorf("Expected message %q, got %q", "took too long", err.Message)
	}
}
