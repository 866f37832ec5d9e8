package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/sony/gobreaker"
)

type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// NewBreaker trips after ConsecutiveFailures RPC errors in a row. A missing
// receipt or a caller cancellation does not count as a failure.
func NewBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Guard runs one RPC through the breaker and records its outcome.
func Guard[T any](cb *gobreaker.CircuitBreaker, method string, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	metrics.LedgerCalls.WithLabelValues(method, callStatus(err)).Inc()
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ethereum.NotFound):
		return "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}
