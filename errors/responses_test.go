package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespond_JSON(t *testing.T) {
	tests := []struct {
		name         string
		err          *QError
		expectedCode int
	}{
		{
			name: "validation error",
			err: &QError{
				Kind:      Validation,
				Message:   "validation failed",
				Code:      http.StatusBadRequest,
				RequestID: "test-id",
				Details:   map[string]interface{}{"field": "username"},
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "internal error",
			err: &QError{
				Kind:      Internal,
				Message:   "unauthorized",
				Code:      http.StatusUnauthorized,
				RequestID: "test-id",
			},
			expectedCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Accept", "application/json")
			rr := httptest.NewRecorder()

			Respond(rr, req, tt.err)

			if rr.Code != tt.expectedCode {
				t.Errorf("Respond() status = %v, want %v", rr.Code, tt.expectedCode)
			}

			contentType := rr.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("Respond() content-type = %v, want application/json", contentType)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response body: %v", err)
			}
			if resp.Error.Name != string(tt.err.Kind) {
				t.Errorf("Respond() error.name = %v, want %v", resp.Error.Name, tt.err.Kind)
			}
			if resp.Error.RequestID != tt.err.RequestID {
				t.Errorf("Respond() error.requestId = %v, want %v", resp.Error.RequestID, tt.err.RequestID)
			}
		})
	}
}

func TestRespond_HTML(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Accept", "text/html")
	rr := httptest.NewRecorder()

	err := &QError{
		Kind:    Validation,
		Message: `<script>alert("x")</script>`,
		Code:    http.StatusBadRequest,
	}
	Respond(rr, req, err)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Respond() status = %v, want %v", rr.Code, http.StatusBadRequest)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Respond() content-type = %v, want text/html prefix", ct)
	}
	body := rr.Body.String()
	if strings.Contains(body, "<script>") {
		t.Errorf("Respond() HTML body not escaped: %s", body)
	}
}
