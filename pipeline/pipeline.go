// Package pipeline implements the analysis pipeline (C7): fingerprint an
// error, consult the advice cache, and on a miss call out to the LLM
// client, falling back to a stub advice when the endpoint is unavailable.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	qerrors "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/errors"
	"github.com/qerrors/qerrors/fingerprint"
	"github.com/qerrors/qerrors/llmclient"
	"github.com/qerrors/qerrors/metrics"
)

// Analyser is what pipeline needs from the HTTP client layer (C6),
// narrowed to keep Pipeline testable without a live endpoint.
type Analyser interface {
	Analyse(ctx context.Context, record qerrors.ErrorRecord, fingerprint string) (llmclient.Result, error)
}

// Pipeline wires the advice cache to an Analyser under a width-bounded
// semaphore.
type Pipeline struct {
	cache    *fingerprint.AdviceCache
	client   Analyser
	metrics  *metrics.Metrics
	sem      chan struct{}
}

// New builds a Pipeline bounded to concurrencyLimit simultaneous analyses.
func New(cache *fingerprint.AdviceCache, client Analyser, m *metrics.Metrics, concurrencyLimit int) *Pipeline {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	return &Pipeline{
		cache:   cache,
		client:  client,
		metrics: m,
		sem:     make(chan struct{}, concurrencyLimit),
	}
}

// Analyse runs the full C7 operation for record, returning either cached
// or freshly computed advice, or a fallback stub if the upstream call
// degrades gracefully (CircuitOpen/RateLimited/Upstream/ParseError). A
// Timeout or Cancelled error is returned as-is with no stub, matching
// spec.md §4.7 step 3.
func (p *Pipeline) Analyse(ctx context.Context, record qerrors.ErrorRecord) (qerrors.Advice, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return qerrors.Advice{}, errors.NewCancelledError(record.RequestID)
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveAnalysisDuration(float64(time.Since(start).Milliseconds()))
		}
	}()

	fp := record.Fingerprint()
	if fp == "" {
		fp = fingerprint.Compute(record.Name, record.Message, record.Stack)
		record = record.WithFingerprint(fp)
	}

	if cached, ok := p.cache.Lookup(fp); ok {
		if p.metrics != nil {
			p.metrics.AdviceCacheHits.Inc()
		}
		return cached.(qerrors.Advice), nil
	}
	if p.metrics != nil {
		p.metrics.AdviceCacheMisses.Inc()
	}

	result, err := p.client.Analyse(ctx, record, fp)
	if err != nil {
		var qe *errors.QError
		if errors.As(err, &qe) {
			switch qe.Kind {
			case errors.CircuitOpen, errors.RateLimited, errors.Upstream, errors.ParseError:
				return qerrors.FallbackAdvice(), nil
			case errors.Timeout, errors.Cancelled:
				return qerrors.Advice{}, err
			}
		}
		return qerrors.Advice{}, err
	}

	advice := qerrors.Advice{
		Diagnosis:   result.Diagnosis,
		Remediation: result.Remediation,
		Confidence:  result.Confidence,
		GeneratedAt: time.Now(),
	}
	advice.SerializedBytes = serializedSize(advice)

	if p.metrics != nil {
		p.metrics.ObserveAnalysisDuration(float64(time.Since(start).Milliseconds()))
		p.metrics.ObserveHTTPDuration(float64(time.Since(start).Milliseconds()))
	}

	p.cache.Store(fp, advice)
	if p.metrics != nil {
		p.metrics.CacheEntries.Set(float64(p.cache.Len()))
		p.metrics.CacheBytes.Set(float64(p.cache.Bytes()))
	}
	return advice, nil
}

func serializedSize(a qerrors.Advice) int {
	b, err := json.Marshal(a)
	if err != nil {
		return len(a.Diagnosis) + len(a.Remediation)
	}
	return len(b)
}
