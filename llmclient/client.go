// Package llmclient is the rate-limited, circuit-broken HTTP client that
// talks to the configured LLM endpoint to obtain remediation advice for a
// fingerprinted error. Every external call passes through a rate gate, a
// circuit breaker, request dedup, and a jittered retry loop before a byte
// ever reaches the wire.
package llmclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sony/gobreaker"

	qrecord "github.com/qerrors/qerrors"
	"github.com/qerrors/qerrors/circuitbreaker"
	"github.com/qerrors/qerrors/collections"
	qerrors "github.com/qerrors/qerrors/errors"
	"github.com/qerrors/qerrors/metrics"
)

const (
	maxPayloadBytes  = 512 * 1024
	userAgent        = "qerrors/1.0"
	backoffSeed      = 250 * time.Millisecond
	defaultCacheTTL  = 60 * time.Second
	defaultCacheSize = 500
)

// RetryConfig mirrors the exponential-backoff shape used elsewhere in the
// stack: an initial delay, a cap, and a multiplier applied per attempt.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the spec's default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: backoffSeed,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// Config wires a Client to a concrete endpoint and its rate/retry/circuit
// policy.
type Config struct {
	Endpoint   string
	Model      string
	APIKey     string
	HTTPClient *http.Client

	RequestTimeout time.Duration
	RateTokensPerSec float64
	RateBurst        int
	Retry            RetryConfig

	CircuitErrorThreshold uint32
	CircuitResetTimeout   time.Duration
	CircuitTestMode       bool

	ResponseCacheTTL time.Duration

	// Metrics, if set, drives circuit.state, circuit.open.transitions,
	// http.retries, and http.failures.by_code.
	Metrics *metrics.Metrics
}

// Client is the public entry point for C6: Analyse(ctx, record) -> Advice.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	group   singleflight.Group
	cache   *collections.LRU
	counter *tiktoken.Tiktoken
	logErr  func(error)
	metrics *metrics.Metrics
}

// CircuitState reports the current breaker state as the lowercase string
// gobreaker uses ("closed", "half-open", "open"), for health reporting.
func (c *Client) CircuitState() string {
	return c.breaker.State().String()
}

// SetRateLimit hot-reloads the outbound token bucket's rate and burst,
// letting HTTP_RATE_TOKENS_PER_SEC/HTTP_RATE_BURST change without
// rebuilding the Client.
func (c *Client) SetRateLimit(tokensPerSec float64, burst int) {
	c.limiter.SetLimit(rate.Limit(tokensPerSec))
	c.limiter.SetBurst(burst)
}

// New constructs a Client. A nil logErr is treated as a no-op.
func New(cfg Config, logErr func(error)) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				MaxConnsPerHost:     64,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.ResponseCacheTTL == 0 {
		cfg.ResponseCacheTTL = defaultCacheTTL
	}
	if logErr == nil {
		logErr = func(error) {}
	}

	m := cfg.Metrics
	breaker, err := circuitbreaker.New(circuitbreaker.Config{
		Name:             "analysis-endpoint",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          cfg.CircuitResetTimeout,
		FailureThreshold: cfg.CircuitErrorThreshold,
		TestMode:         cfg.CircuitTestMode,
		OnStateChange: func(from, to gobreaker.State) {
			if m == nil {
				return
			}
			m.CircuitState.Set(float64(to))
			if to == gobreaker.StateOpen {
				m.CircuitOpenTransitions.Inc()
			}
		},
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("llmclient: %w", err)
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("llmclient: token encoder: %w", err)
	}

	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateTokensPerSec), cfg.RateBurst),
		breaker: breaker,
		cache:   collections.NewLRU(defaultCacheSize, 0, cfg.ResponseCacheTTL),
		counter: enc,
		logErr:  logErr,
		metrics: m,
	}, nil
}

type rawResponse struct {
	Diagnosis   string   `json:"diagnosis"`
	Remediation string   `json:"remediation"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// Result is what Analyse returns on success.
type Result struct {
	Diagnosis   string
	Remediation string
	Confidence  *float64
}

// Analyse sends record to the LLM endpoint and returns structured advice,
// or a *qerrors.QError tagged RateLimited, CircuitOpen, Upstream,
// ParseError, or Cancelled. It does not return Timeout: an expired ctx
// deadline is reported as Cancelled, and an HTTP client timeout as
// Upstream (status 0). fingerprint is the memoised
// record.Fingerprint(), threaded separately so callers that haven't
// attached one yet can still pass it through for the dedup cache key.
func (c *Client) Analyse(ctx context.Context, record qrecord.ErrorRecord, fingerprint string) (Result, error) {
	requestID := record.RequestID
	if err := ctx.Err(); err != nil {
		return Result{}, qerrors.NewCancelledError(requestID)
	}

	if !c.limiter.Allow() {
		return Result{}, qerrors.NewRateLimitError(requestID, 0)
	}

	body, requestKey, err := c.buildRequestBody(record, fingerprint)
	if err != nil {
		return Result{}, qerrors.NewParseErrorErr(requestID, err)
	}

	if cached, ok := c.cache.Get(requestKey); ok {
		return cached.(Result), nil
	}

	v, err, _ := c.group.Do(requestKey, func() (interface{}, error) {
		return c.dispatchWithRetry(ctx, requestID, body)
	})
	if err != nil {
		return Result{}, err
	}

	result := v.(Result)
	c.cache.Set(requestKey, result)
	return result, nil
}

// wireRecord is the JSON shape sent as the chat message content per
// spec.md §6: the serialised ErrorRecord, including sanitised Context.
type wireRecord struct {
	Fingerprint string                 `json:"fingerprint"`
	Name        string                 `json:"name"`
	Message     string                 `json:"message"`
	Stack       []string               `json:"stack,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

func (c *Client) buildRequestBody(record qrecord.ErrorRecord, fingerprint string) ([]byte, string, error) {
	wire := wireRecord{
		Fingerprint: fingerprint,
		Name:        record.Name,
		Message:     record.Message,
		Stack:       record.Stack,
		Context:     record.Context,
	}
	contentBytes, err := json.Marshal(wire)
	if err != nil {
		return nil, "", err
	}
	content := c.truncateToBudget(string(contentBytes))

	payload := map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are an assistant diagnosing application errors. Respond with a JSON object containing \"diagnosis\" and \"remediation\"."},
			{"role": "user", "content": content},
		},
		"response_format":        map[string]string{"type": "json_object"},
		"max_completion_tokens":  c.estimateMaxTokens(content),
	}

	body, _ := json.Marshal(payload)
	if len(body) > maxPayloadBytes {
		body = body[:maxPayloadBytes]
	}

	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}

func (c *Client) truncateToBudget(content string) string {
	tokens := c.counter.Encode(content, nil, nil)
	const maxPromptTokens = 4000
	if len(tokens) <= maxPromptTokens {
		return content
	}
	return c.counter.Decode(tokens[:maxPromptTokens])
}

func (c *Client) estimateMaxTokens(content string) int {
	promptTokens := len(c.counter.Encode(content, nil, nil))
	budget := 1024 - promptTokens/4
	if budget < 128 {
		budget = 128
	}
	return budget
}

func (c *Client) dispatchWithRetry(ctx context.Context, requestID string, body []byte) (Result, error) {
	var lastErr error
	retry := c.cfg.Retry

	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, qerrors.NewCancelledError(requestID)
		}

		result, retryAfter, err := c.doOnce(ctx, requestID, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == retry.MaxRetries {
			break
		}

		if c.metrics != nil {
			c.metrics.HTTPRetries.Inc()
		}

		delay := backoffDelay(retry, attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Result{}, qerrors.NewCancelledError(requestID)
		}
	}

	return Result{}, lastErr
}

func (c *Client) doOnce(ctx context.Context, requestID string, body []byte) (Result, time.Duration, error) {
	var result Result
	var retryAfter time.Duration

	breakerErr := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		defer resp.Body.Close()

		retryAfter = parseRetryAfter(resp.Header)

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if err != nil {
			return err
		}

		if resp.StatusCode >= 400 {
			return upstreamStatusError{status: resp.StatusCode, body: string(respBody)}
		}

		parsed, perr := parseAdvice(respBody)
		if perr != nil {
			return parseFailure{cause: perr}
		}
		result = parsed
		return nil
	})

	if breakerErr == nil {
		return result, 0, nil
	}

	switch e := breakerErr.(type) {
	case upstreamStatusError:
		if c.metrics != nil {
			c.metrics.HTTPFailuresByCode.WithLabelValues(strconv.Itoa(e.status)).Inc()
		}
		return Result{}, retryAfter, qerrors.NewUpstreamError(requestID, fmt.Sprintf("upstream returned status %d", e.status), e.status, e)
	case parseFailure:
		return Result{}, 0, qerrors.NewParseErrorErr(requestID, e.cause)
	}

	if breakerErr == circuitbreaker.ErrCircuitOpen {
		return Result{}, 0, qerrors.NewCircuitOpenError(requestID)
	}
	if ctx.Err() != nil {
		return Result{}, 0, qerrors.NewCancelledError(requestID)
	}
	if c.metrics != nil {
		c.metrics.HTTPFailuresByCode.WithLabelValues("0").Inc()
	}
	return Result{}, retryAfter, qerrors.NewUpstreamError(requestID, breakerErr.Error(), 0, breakerErr)
}

type upstreamStatusError struct {
	status int
	body   string
}

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.body)
}

type parseFailure struct{ cause error }

func (e parseFailure) Error() string { return "parse failure: " + e.cause.Error() }

func isRetryable(err error) bool {
	var qe *qerrors.QError
	if qerrors.As(err, &qe) {
		switch qe.Kind {
		case qerrors.Upstream, qerrors.Timeout:
			return true
		}
	}
	return false
}

func backoffDelay(retry RetryConfig, attempt int) time.Duration {
	base := float64(retry.InitialDelay) * pow(retry.Multiplier, attempt)
	if base > float64(retry.MaxDelay) {
		base = float64(retry.MaxDelay)
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			return time.Until(t)
		}
	}
	return 0
}

// parseAdvice tolerates responses wrapped in ```json fences.
func parseAdvice(body []byte) (Result, error) {
	text := strings.TrimSpace(string(body))
	text = stripFences(text)

	var outer struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	candidate := text
	if err := json.Unmarshal([]byte(text), &outer); err == nil && len(outer.Choices) > 0 {
		candidate = stripFences(strings.TrimSpace(outer.Choices[0].Message.Content))
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return Result{}, err
	}
	if raw.Diagnosis == "" && raw.Remediation == "" {
		return Result{}, fmt.Errorf("response missing diagnosis and remediation")
	}
	return Result{Diagnosis: raw.Diagnosis, Remediation: raw.Remediation, Confidence: raw.Confidence}, nil
}

func stripFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
