package provider

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// newCalendarBreaker builds the circuit breaker shared by the provider
// adapters. Only server-side failures (5xx, 429, transport errors) count
// toward tripping; auth and other client errors are the caller's problem and
// must not take the provider offline for everyone.
func newCalendarBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// nonCircuitError wraps errors that must not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (e *nonCircuitError) Unwrap() error {
	return e.err
}

// unwrapNonCircuit strips the nonCircuitError marker before the error leaves
// the adapter.
func unwrapNonCircuit(err error) error {
	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	return err
}
