package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"fadeout/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay" validate:"min=10ms,max=10s"`
	MaxDelay     time.Duration `json:"max_delay" validate:"min=10ms,max=5m,gtefield=InitialDelay"`
	Multiplier   float64       `json:"multiplier" validate:"min=1.0,max=10.0"`
	MaxAttempts  int           `json:"max_attempts" validate:"min=1,max=20"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns a sensible default configuration
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FromRetryConfig builds a doubling, jittered backoff from the retry
// section of the config file.
func FromRetryConfig(rc models.RetryConfig) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Duration(rc.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(rc.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  rc.MaxAttempts,
		Jitter:       true,
	}
}

// Validate checks the config against its struct tags.
func (c BackoffConfig) Validate() error {
	return validator.New().Struct(c)
}

// Option customizes a Backoff.
type Option func(*Backoff)

// WithClock replaces the real clock used to wait between attempts.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Backoff) { b.clock = clock }
}

// WithOnRetry registers a hook called after each failed attempt that will
// be retried, with the delay about to be waited.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(b *Backoff) { b.onRetry = fn }
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config  BackoffConfig
	clock   clockwork.Clock
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig, opts ...Option) *Backoff {
	b := &Backoff{
		config: config,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Retry runs operation until it succeeds, MaxAttempts is reached or ctx
// is done. Every error is retried.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry, except errors for which isRetryable returns
// false are returned immediately.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == b.config.MaxAttempts {
			break
		}

		delay := b.Delay(attempt)
		if b.onRetry != nil {
			b.onRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(delay):
		}
	}

	return lastErr
}

// Delay returns the wait after the given failed attempt: InitialDelay
// grown by Multiplier per attempt, capped at MaxDelay, then spread by
// up to 25% either way when jitter is on.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
		if delay >= float64(b.config.MaxDelay) {
			break
		}
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if delay > float64(b.config.MaxDelay) {
			delay = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(delay)
}
