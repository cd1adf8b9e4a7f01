package circuitbreaker

import "errors"

// ErrCircuitOpen is returned by Execute when the breaker is Open.
var ErrCircuitOpen = errors.New("circuit breaker is open")
