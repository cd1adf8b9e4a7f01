package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qerrors/qerrors/logging"
	"github.com/qerrors/qerrors/metrics"
)

func TestReport_WritesJSONResponse(t *testing.T) {
	log := logging.New(logging.Config{Level: "error"})
	defer log.Close()

	rep := New(log, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()

	rep.Report(errors.New("boom"), "req-1", nil, rec, req)

	if rec.Code != 500 {
		t.Fatalf("expected 500 for an unclassified internal error, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}
}

func TestReport_NeverPanics(t *testing.T) {
	rep := New(nil, nil, nil)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Report must never panic, got %v", r)
		}
	}()
	rep.Report(errors.New("boom"), "", nil, nil, nil)
}

func TestHandler_RecoversPanicAndResponds(t *testing.T) {
	rep := New(nil, nil, nil)

	h := rep.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 500 {
		t.Fatalf("expected panic to be converted to a 500 response, got %d", rec.Code)
	}
}

func TestReport_IncrementsErrorMetrics(t *testing.T) {
	m := metrics.New()
	rep := New(nil, m, nil)

	rep.Report(errors.New("boom"), "", nil, nil, nil)

	snap := m.Snapshot()
	if snap.Counters["qerrors_errors_total"] != 1 {
		t.Fatalf("expected errors_total of 1, got %v", snap.Counters["qerrors_errors_total"])
	}
	if snap.Counters["qerrors_errors_by_severity_total.high"] != 1 {
		t.Fatalf("expected errors_by_severity_total.high of 1, got %v", snap.Counters["qerrors_errors_by_severity_total.high"])
	}
}

func TestFingerprintLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := newFingerprintLimiter(5, 5)
	for i := 0; i < 5; i++ {
		if !l.Allow("fp") {
			t.Fatalf("expected burst capacity of 5 to allow request %d", i)
		}
	}
	if l.Allow("fp") {
		t.Fatal("expected 6th immediate request to be throttled")
	}
}

func TestFingerprintLimiter_IndependentPerFingerprint(t *testing.T) {
	l := newFingerprintLimiter(5, 5)
	for i := 0; i < 5; i++ {
		l.Allow("fp-a")
	}
	if !l.Allow("fp-b") {
		t.Fatal("expected a different fingerprint to have its own independent bucket")
	}
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a generated request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatal("expected response header to echo the context request ID")
	}
}
