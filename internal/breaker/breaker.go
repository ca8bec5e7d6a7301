// Package breaker builds the circuit breakers that guard external speech
// providers.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Settings configures a provider breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
}

// DefaultSettings opens after 3 consecutive failures and retries after 30s.
func DefaultSettings() Settings {
	return Settings{FailureThreshold: 3, OpenTimeout: 30 * time.Second}
}

// New returns a breaker named after the provider it guards.
func New[T any](name string, s Settings) *gobreaker.CircuitBreaker[T] {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultSettings().OpenTimeout
	}
	threshold := s.FailureThreshold
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("provider circuit changed state", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsOpen reports whether err was produced by a breaker rejecting the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
