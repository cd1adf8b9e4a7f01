// Package circuitbreaker guards the configured analysis endpoint against a
// failing or slow LLM provider, tripping open after a run of consecutive
// failures instead of letting every caller pile on more timeouts.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config configures a CircuitBreaker instance.
type Config struct {
	// Name identifies this breaker, e.g. "analysis-endpoint".
	Name string
	// MaxRequests is how many requests are allowed through in the
	// half-open probe state.
	MaxRequests uint32
	// Interval is the rolling window over which Closed-state failures
	// are counted.
	Interval time.Duration
	// Timeout is how long the breaker stays Open before probing again.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker (spec.md's CIRCUIT_ERROR_THRESHOLD).
	FailureThreshold uint32
	// TestMode suppresses OnStateChange so unit tests exercising
	// breaker transitions don't also drive a caller's metrics.
	TestMode bool

	// OnStateChange, if set, is called after every transition with the
	// from/to state, so a caller holding a *metrics.Metrics can drive the
	// circuit.state gauge and circuit.open.transitions counter without
	// this package depending on the metrics package itself.
	OnStateChange func(from, to gobreaker.State)
}

// CircuitBreaker wraps gobreaker with structured logging around every
// state transition. Prometheus/metrics wiring is the caller's
// responsibility via Config.OnStateChange.
type CircuitBreaker struct {
	name    string
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

func initCircuitBreaker(config Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("circuit breaker name cannot be empty")
	}

	return &CircuitBreaker{
		name:   config.Name,
		logger: logger,
	}, nil
}

func configureCircuitBreaker(cb *CircuitBreaker, config Config, logger *zap.Logger) {
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= config.FailureThreshold
			if shouldTrip {
				logger.Info("circuit breaker tripping",
					zap.String("name", config.Name),
					zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
					zap.Uint32("threshold", config.FailureThreshold))
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))

			if config.OnStateChange != nil && !config.TestMode {
				config.OnStateChange(from, to)
			}
		},
	}

	cb.breaker = gobreaker.NewCircuitBreaker(settings)
}

// New builds a CircuitBreaker guarding the named endpoint.
func New(config Config, logger *zap.Logger) (*CircuitBreaker, error) {
	cb, err := initCircuitBreaker(config, logger)
	if err != nil {
		return nil, err
	}
	configureCircuitBreaker(cb, config, logger)
	return cb, nil
}

// Execute runs operation under the breaker. If the breaker is Open it
// returns ErrCircuitOpen without calling operation.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		if err := operation(); err != nil {
			cb.logger.Debug("operation failed", zap.String("name", cb.name), zap.Error(err))
			return nil, err
		}
		return nil, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			cb.logger.Debug("circuit breaker is open", zap.String("name", cb.name))
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.breaker.State() }

// Counts returns the breaker's rolling request/failure counters.
func (cb *CircuitBreaker) Counts() gobreaker.Counts { return cb.breaker.Counts() }
