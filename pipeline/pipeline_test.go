package pipeline

import (
	"context"
	"testing"
	"time"

	qerrors "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/errors"
	"github.com/qerrors/qerrors/fingerprint"
	"github.com/qerrors/qerrors/llmclient"
	"github.com/qerrors/qerrors/metrics"
)

type fakeAnalyser struct {
	calls  int
	result llmclient.Result
	err    error
}

func (f *fakeAnalyser) Analyse(ctx context.Context, record qerrors.ErrorRecord, fingerprint string) (llmclient.Result, error) {
	f.calls++
	return f.result, f.err
}

func testRecord() qerrors.ErrorRecord {
	return qerrors.ErrorRecord{Name: "DBError", Message: "connection refused", RequestID: "req-1"}
}

func TestAnalyse_CacheMissCallsClientAndStores(t *testing.T) {
	cache := fingerprint.NewAdviceCache(10, time.Hour, 1<<20)
	client := &fakeAnalyser{result: llmclient.Result{Diagnosis: "d", Remediation: "r"}}
	p := New(cache, client, nil, 4)

	advice, err := p.Analyse(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advice.Diagnosis != "d" {
		t.Fatalf("expected diagnosis 'd', got %+v", advice)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one client call, got %d", client.calls)
	}
}

func TestAnalyse_CacheHitSkipsClient(t *testing.T) {
	cache := fingerprint.NewAdviceCache(10, time.Hour, 1<<20)
	client := &fakeAnalyser{result: llmclient.Result{Diagnosis: "d", Remediation: "r"}}
	p := New(cache, client, nil, 4)

	record := testRecord()
	if _, err := p.Analyse(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Analyse(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.calls != 1 {
		t.Fatalf("expected second call to hit cache, got %d client calls", client.calls)
	}
}

func TestAnalyse_CircuitOpenReturnsFallback(t *testing.T) {
	cache := fingerprint.NewAdviceCache(10, time.Hour, 1<<20)
	client := &fakeAnalyser{err: errors.NewCircuitOpenError("req-1")}
	p := New(cache, client, nil, 4)

	advice, err := p.Analyse(context.Background(), testRecord())
	if err != nil {
		t.Fatalf("expected fallback advice with no error, got %v", err)
	}
	if advice.Diagnosis != "analysis unavailable" {
		t.Fatalf("expected fallback advice, got %+v", advice)
	}

	if _, ok := cache.Lookup(fingerprintOf(testRecord())); ok {
		t.Fatal("expected fallback advice not to be cached")
	}
}

func TestAnalyse_TimeoutPropagatesWithoutStub(t *testing.T) {
	cache := fingerprint.NewAdviceCache(10, time.Hour, 1<<20)
	client := &fakeAnalyser{err: errors.NewTimeoutError("req-1")}
	p := New(cache, client, nil, 4)

	_, err := p.Analyse(context.Background(), testRecord())
	var qe *errors.QError
	if !errors.As(err, &qe) || qe.Kind != errors.Timeout {
		t.Fatalf("expected Timeout error to propagate, got %v", err)
	}
}

func TestAnalyse_CacheMissUpdatesCacheGauges(t *testing.T) {
	cache := fingerprint.NewAdviceCache(10, time.Hour, 1<<20)
	client := &fakeAnalyser{result: llmclient.Result{Diagnosis: "d", Remediation: "r"}}
	m := metrics.New()
	p := New(cache, client, m, 4)

	if _, err := p.Analyse(context.Background(), testRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := m.Snapshot()
	if snap.Gauges["qerrors_cache_entries"] != 1 {
		t.Fatalf("expected cache_entries gauge of 1, got %v", snap.Gauges["qerrors_cache_entries"])
	}
	if snap.Gauges["qerrors_cache_bytes"] <= 0 {
		t.Fatalf("expected a positive cache_bytes gauge, got %v", snap.Gauges["qerrors_cache_bytes"])
	}
}

func fingerprintOf(r qerrors.ErrorRecord) string {
	return fingerprint.Compute(r.Name, r.Message, r.Stack)
}
