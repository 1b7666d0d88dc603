package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied when a Config field is zero.
const (
	DefaultMinInterval = 15 * time.Second
	DefaultMaxCalls    = 50
	DefaultWindow      = time.Hour
)

// Reason explains a denied acquisition.
type Reason string

const (
	// Throttled means the minimum spacing since the last call has not elapsed.
	Throttled Reason = "throttled"
	// BudgetExhausted means the call budget for the current window is spent.
	BudgetExhausted Reason = "budget_exhausted"
)

// Decision is the result of TryAcquire.
type Decision struct {
	Granted bool
	Reason  Reason
	// Wait is how long until the denying gate would pass.
	Wait time.Duration
}

func (d Decision) String() string {
	if d.Granted {
		return "granted"
	}
	return fmt.Sprintf("%s (retry in %s)", d.Reason, d.Wait.Round(time.Second))
}

// RateBudget is a snapshot of the limiter counters.
type RateBudget struct {
	CallCount   int       `json:"call_count"`
	MaxCalls    int       `json:"max_calls"`
	WindowStart time.Time `json:"window_start"`
	LastCallAt  time.Time `json:"last_call_at,omitempty"`
}

// Remaining returns the calls left in the current window.
func (b RateBudget) Remaining() int {
	return max(b.MaxCalls-b.CallCount, 0)
}

// Config holds the limiter parameters. A negative MinInterval disables
// the spacing gate.
type Config struct {
	MinInterval time.Duration
	MaxCalls    int
	Window      time.Duration
}

// Limiter enforces a minimum spacing between outbound calls and a call
// budget per fixed window. All state changes happen under one mutex so
// concurrent callers can never both take the last unit of budget.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	spacing *rate.Limiter
	budget  RateBudget
	now     func() time.Time
}

// New creates a limiter. The first window starts now.
func New(cfg Config) *Limiter {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	l := &Limiter{cfg: cfg, now: time.Now}
	if cfg.MinInterval > 0 {
		l.spacing = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	l.budget = RateBudget{MaxCalls: cfg.MaxCalls, WindowStart: l.now()}
	return l
}

// SetClock replaces the time source and restarts the window at the new
// clock's current time. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	l.budget.WindowStart = now()
	if l.spacing != nil {
		l.spacing = rate.NewLimiter(rate.Every(l.cfg.MinInterval), 1)
	}
}

// TryAcquire checks both gates and, when both pass, records the call
// before returning. It never blocks.
func (l *Limiter) TryAcquire() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollWindow(now)

	if l.budget.CallCount >= l.cfg.MaxCalls {
		return Decision{
			Reason: BudgetExhausted,
			Wait:   l.budget.WindowStart.Add(l.cfg.Window).Sub(now),
		}
	}

	if l.spacing != nil {
		if tokens := l.spacing.TokensAt(now); tokens < 1 {
			wait := time.Duration((1 - tokens) * float64(l.cfg.MinInterval))
			return Decision{Reason: Throttled, Wait: wait}
		}
		if !l.spacing.AllowN(now, 1) {
			return Decision{Reason: Throttled, Wait: l.cfg.MinInterval}
		}
	}

	l.budget.CallCount++
	l.budget.LastCallAt = now
	return Decision{Granted: true}
}

// ResetBudget zeroes the call count and starts a new window now. The
// spacing gate is unaffected.
func (l *Limiter) ResetBudget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budget.CallCount = 0
	l.budget.WindowStart = l.now()
}

// Budget returns a snapshot of the current counters.
func (l *Limiter) Budget() RateBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollWindow(l.now())
	return l.budget
}

func (l *Limiter) rollWindow(now time.Time) {
	if now.Sub(l.budget.WindowStart) >= l.cfg.Window {
		l.budget.WindowStart = now
		l.budget.CallCount = 0
	}
}
