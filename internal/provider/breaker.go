package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Circuit breaker states as reported by Chain.BreakerStates.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerConfig holds the parameters for a provider circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Zero or less never opens it.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a trial call.
	ResetTimeout time.Duration
	// HalfOpenMaxAttempts bounds concurrent trials and is also the number
	// of successes needed to close again. Defaults to 1.
	HalfOpenMaxAttempts int
}

// errCircuitOpen is the cause of a call refused by an open breaker.
var errCircuitOpen = errors.New("circuit open")

// cancelled marks a failure caused by the whole dispatch being cancelled.
// It says nothing about the provider, so the breaker ignores it.
type cancelled struct{ err error }

func (c cancelled) Error() string { return c.err.Error() }
func (c cancelled) Unwrap() error { return c.err }

// Breaker guards one provider.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[string]
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenMaxAttempts),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return cfg.FailureThreshold > 0 && c.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsExcluded: func(err error) bool {
			var c cancelled
			return errors.As(err, &c)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("provider: breaker state changed",
				slog.String("provider", name),
				slog.String("from", stateName(from)),
				slog.String("to", stateName(to)))
		},
	})}
}

// Execute runs call under the breaker. A failure is not counted when
// ctx, the dispatch context, has ended. An open breaker, or a half-open
// one with its trials in flight, refuses with errCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, call func() (string, error)) (string, error) {
	answer, err := b.cb.Execute(func() (string, error) {
		answer, err := call()
		if err != nil && ctx.Err() != nil {
			return "", cancelled{err}
		}
		return answer, err
	})

	var c cancelled
	switch {
	case errors.As(err, &c):
		return "", c.err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", errCircuitOpen
	}
	return answer, err
}

// Open reports whether the breaker currently refuses every call.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return stateName(b.cb.State())
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
