package service

import (
	"context"
	"sync"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/errors"
	"fadeout/internal/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards store reads shared by every session. After
// maxFailures consecutive failures further reads fail fast until timeout has
// passed; then a limited number of probe calls decide whether it closes.
// Store writes never go through it.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxCalls int
	clock            clockwork.Clock

	mu              sync.Mutex
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	halfOpenCalls   int

	logger *errors.Logger
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, timeout time.Duration, clock clockwork.Clock, logger *logrus.Logger) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = constants.DefaultBreakerMaxFailures
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: constants.CBHalfOpenMaxCalls,
		clock:            clock,
		state:            StateClosed,
		logger:           errors.WrapLogger(logger),
	}
}

// Execute wraps a function call with circuit breaker logic
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		metrics.IncrementCounter("breaker_rejections_total", map[string]string{"breaker": cb.name}, "Calls rejected by an open circuit breaker")
		return errors.New(errors.ErrCodeDatabaseConnection, "circuit breaker is open").
			WithContext("breaker", cb.name).
			WithUserMessage("Message store is temporarily unavailable")
	}

	err := fn(ctx)
	if err != nil {
		// Cancellation says nothing about the store's health.
		if ctx.Err() == nil {
			cb.recordFailure()
		}
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Since(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 0
			cb.logger.WithFields(logrus.Fields{
				"breaker": cb.name,
			}).Info("Circuit breaker transitioning to half-open")
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.halfOpenMaxCalls
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.openLocked()
		}
	case StateHalfOpen:
		cb.openLocked()
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	metrics.IncrementCounter("breaker_opened_total", map[string]string{"breaker": cb.name}, "Circuit breaker trips")
	cb.logger.WithFields(logrus.Fields{
		"breaker":      cb.name,
		"failures":     cb.failures,
		"max_failures": cb.maxFailures,
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenCalls++
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithFields(logrus.Fields{
				"breaker": cb.name,
			}).Info("Circuit breaker closed after successful half-open tests")
		}
	case StateClosed:
		cb.failures = 0
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
}
