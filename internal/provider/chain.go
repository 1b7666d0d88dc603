package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/offline"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/ratelimit"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 25 * time.Second

// Source tells where an answer came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceOffline  Source = "offline"
	SourceFallback Source = "fallback"
)

// Degraded records why providers were not used or did not answer.
type Degraded string

const (
	DegradedNone               Degraded = ""
	DegradedThrottled          Degraded = "throttled"
	DegradedBudgetExhausted    Degraded = "budget_exhausted"
	DegradedAllProvidersFailed Degraded = "all_providers_failed"
	DegradedNoProviders        Degraded = "no_providers"
)

// AnswerResult is the single terminal value produced for an accepted
// question.
type AnswerResult struct {
	Question question.Question
	Answer   string
	// Provider is empty unless Source is SourceProvider.
	Provider string
	Latency  time.Duration
	Source   Source
	Degraded Degraded
	// Wait is the limiter's retry hint when Degraded is a limiter reason.
	Wait     time.Duration
	Failures []*Error
}

// OfflineLookup answers questions without network access.
type OfflineLookup interface {
	Lookup(text string) (string, error)
}

// Limiter gates outbound provider calls.
type Limiter interface {
	TryAcquire() ratelimit.Decision
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithLimiter gates every dispatch through l.
func WithLimiter(l Limiter) ChainOption {
	return func(c *Chain) { c.limiter = l }
}

// WithOffline sets the offline lookup used when providers are skipped or fail.
func WithOffline(o OfflineLookup) ChainOption {
	return func(c *Chain) { c.offline = o }
}

// WithTimeout sets the per-provider call timeout.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker attaches a circuit breaker with cfg to every provider.
func WithBreaker(cfg BreakerConfig) ChainOption {
	return func(c *Chain) { c.breakerCfg = &cfg }
}

// WithPublisher emits provider.failed events through pub.
func WithPublisher(pub *events.Publisher) ChainOption {
	return func(c *Chain) { c.publisher = pub }
}

// Chain tries providers in priority order and always produces an answer.
type Chain struct {
	providers  []Provider
	breakers   []*Breaker
	breakerCfg *BreakerConfig
	limiter    Limiter
	offline    OfflineLookup
	timeout    time.Duration
	publisher  *events.Publisher
}

// NewChain creates a chain over providers in the given priority order.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakerCfg != nil {
		c.breakers = make([]*Breaker, len(providers))
		for i, p := range providers {
			c.breakers[i] = NewBreaker(p.Name(), *c.breakerCfg)
		}
	}
	return c
}

// Answer produces an AnswerResult for q. It never fails: limiter denial,
// provider failures and cancellation all end in the offline table or the
// generic answer. Limiter budget is only spent when at least one provider
// can be called: an open breaker or a configuration the provider rejects
// up front does not count as a call.
func (c *Chain) Answer(ctx context.Context, q question.Question) AnswerResult {
	start := time.Now()
	res := AnswerResult{Question: q}

	if len(c.providers) == 0 {
		res.Degraded = DegradedNoProviders
		c.fallback(ctx, &res)
		res.Latency = time.Since(start)
		return res
	}

	skipped, callable := c.precheck()
	if callable == 0 {
		for _, perr := range skipped {
			if perr != nil {
				res.Failures = append(res.Failures, perr)
				c.report(ctx, perr)
			}
		}
		res.Degraded = DegradedAllProvidersFailed
		c.fallback(ctx, &res)
		res.Latency = time.Since(start)
		return res
	}

	if c.limiter != nil {
		if d := c.limiter.TryAcquire(); !d.Granted {
			res.Degraded = DegradedThrottled
			if d.Reason == ratelimit.BudgetExhausted {
				res.Degraded = DegradedBudgetExhausted
			}
			res.Wait = d.Wait
			slog.InfoContext(ctx, "provider: dispatch denied by limiter",
				slog.String("reason", string(d.Reason)), slog.Duration("wait", d.Wait))
			c.fallback(ctx, &res)
			res.Latency = time.Since(start)
			return res
		}
	}

	for i, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		perr := skipped[i]
		if perr == nil {
			var answer string
			answer, perr = c.ask(ctx, i, p, q)
			if perr == nil {
				res.Answer = answer
				res.Provider = p.Name()
				res.Source = SourceProvider
				res.Latency = time.Since(start)
				return res
			}
		}
		res.Failures = append(res.Failures, perr)
		c.report(ctx, perr)
	}

	res.Degraded = DegradedAllProvidersFailed
	c.fallback(ctx, &res)
	res.Latency = time.Since(start)
	return res
}

// precheck returns, per provider, the failure that rules it out without a
// network call, and how many providers remain callable.
func (c *Chain) precheck() ([]*Error, int) {
	skipped := make([]*Error, len(c.providers))
	callable := 0
	for i, p := range c.providers {
		if c.breakers != nil && c.breakers[i].Open() {
			skipped[i] = &Error{Provider: p.Name(), Cause: CauseCircuitOpen, Err: errCircuitOpen}
			continue
		}
		if ch, ok := p.(Checker); ok {
			if err := ch.Check(); err != nil {
				skipped[i] = Classify(p.Name(), err)
				continue
			}
		}
		callable++
	}
	return skipped, callable
}

// ask calls one provider under its breaker and timeout.
func (c *Chain) ask(ctx context.Context, i int, p Provider, q question.Question) (string, *Error) {
	call := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		answer, err := p.Ask(callCtx, q)
		if err == nil && answer == "" {
			err = ParseFailure(p.Name(), nil, errors.New("empty answer"))
		}
		return answer, err
	}

	var answer string
	var err error
	if c.breakers != nil {
		answer, err = c.breakers[i].Execute(ctx, call)
	} else {
		answer, err = call()
	}
	if errors.Is(err, errCircuitOpen) {
		return "", &Error{Provider: p.Name(), Cause: CauseCircuitOpen, Err: err}
	}
	if err != nil {
		return "", Classify(p.Name(), err)
	}
	return answer, nil
}

func (c *Chain) report(ctx context.Context, perr *Error) {
	slog.WarnContext(ctx, "provider: ask failed",
		slog.String("provider", perr.Provider),
		slog.String("cause", string(perr.Cause)),
		slog.Int("status", perr.Status),
		slog.String("error", perr.Error()))

	if err := c.publisher.Emit(ctx, events.ProviderFailed, &events.ProviderFailedData{
		Provider: perr.Provider,
		Cause:    string(perr.Cause),
		Status:   perr.Status,
		Error:    perr.Error(),
	}); err != nil {
		slog.DebugContext(ctx, "provider: emit failure event", slog.String("error", err.Error()))
	}
}

func (c *Chain) fallback(ctx context.Context, res *AnswerResult) {
	if c.offline != nil {
		answer, err := c.offline.Lookup(res.Question.Text)
		if err == nil && answer != "" {
			res.Answer = answer
			res.Source = SourceOffline
			return
		}
		if err != nil && !errors.Is(err, offline.ErrNotFound) {
			slog.WarnContext(ctx, "provider: offline lookup failed", slog.String("error", err.Error()))
		}
	}
	res.Answer = offline.GenericAnswer
	res.Source = SourceFallback
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// BreakerStates returns the breaker state per provider name.
func (c *Chain) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.providers))
	for i, p := range c.providers {
		state := StateClosed
		if c.breakers != nil {
			state = c.breakers[i].State()
		}
		states[p.Name()] = state
	}
	return states
}
