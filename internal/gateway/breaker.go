package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lmorandi/gateway_desk/internal/models"
)

// CircuitBreakerSession wraps a Session with circuit breaker protection so
// a flapping gateway stops consuming poll budgets on every call.
type CircuitBreakerSession struct {
	session Session
	breaker *gobreaker.CircuitBreaker
}

// Ensure the wrapper satisfies Session at compile time.
var _ Session = (*CircuitBreakerSession)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	session Session,
	fn func(Session) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(session) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerSession creates a wrapped session with sensible defaults
func NewCircuitBreakerSession(session Session) *CircuitBreakerSession {
	return NewCircuitBreakerSessionWithSettings(session, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerSessionWithSettings creates a wrapped session with custom settings
func NewCircuitBreakerSessionWithSettings(session Session, settings CircuitBreakerSettings) *CircuitBreakerSession {
	gbSettings := gobreaker.Settings{
		Name:        "GatewaySessionCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerSession{
		session: session,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Connect passes through; connect failures have their own typed errors and
// caller-side retry policy.
func (c *CircuitBreakerSession) Connect(ctx context.Context, host string, port, clientID int) error {
	return c.session.Connect(ctx, host, port, clientID)
}

// Disconnect passes through.
func (c *CircuitBreakerSession) Disconnect() { c.session.Disconnect() }

// IsConnected passes through.
func (c *CircuitBreakerSession) IsConnected() bool { return c.session.IsConnected() }

// SetErrorHandler passes through.
func (c *CircuitBreakerSession) SetErrorHandler(h ErrorHandler) { c.session.SetErrorHandler(h) }

// SetMarketDataType passes through.
func (c *CircuitBreakerSession) SetMarketDataType(dataType int) error {
	return c.session.SetMarketDataType(dataType)
}

// QualifyContract wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) QualifyContract(ct Contract) (Contract, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) (Contract, error) {
		return s.QualifyContract(ct)
	})
}

// ChainParams wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) ChainParams(underlying Contract) ([]ChainParams, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) ([]ChainParams, error) {
		return s.ChainParams(underlying)
	})
}

// SubscribeMarketData wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) SubscribeMarketData(ct Contract, genericTicks string) (*Ticker, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) (*Ticker, error) {
		return s.SubscribeMarketData(ct, genericTicks)
	})
}

// CancelMarketData passes through: cancellation is mandatory cleanup and
// must run even when the breaker is open.
func (c *CircuitBreakerSession) CancelMarketData(t *Ticker) error {
	return c.session.CancelMarketData(t)
}

// HistoricalBars wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) HistoricalBars(req HistoricalRequest) ([]models.Bar, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) ([]models.Bar, error) {
		return s.HistoricalBars(req)
	})
}

// PlaceOrder wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) PlaceOrder(ct Contract, o Order) (int64, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) (int64, error) {
		return s.PlaceOrder(ct, o)
	})
}

// OrderStatus wraps the underlying call with the circuit breaker
func (c *CircuitBreakerSession) OrderStatus(orderID int64) (OrderStatus, error) {
	return execCircuitBreaker(c.breaker, c.session, func(s Session) (OrderStatus, error) {
		return s.OrderStatus(orderID)
	})
}
