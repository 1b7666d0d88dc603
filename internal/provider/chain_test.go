package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/screenqa/screenqa/internal/provider/restutil"
	"github.com/screenqa/screenqa/pkg/offline"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/ratelimit"
)

type fakeProvider struct {
	name   string
	answer string
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Ask(ctx context.Context, _ question.Question) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, f.err
}

type fixedLimiter struct {
	decision ratelimit.Decision
	calls    int
}

func (l *fixedLimiter) TryAcquire() ratelimit.Decision {
	l.calls++
	return l.decision
}

var pythonQuestion = question.Question{Text: "What is Python?", Kind: question.KindQuestion}

func TestChainFallsThroughInOrder(t *testing.T) {
	first := &fakeProvider{name: "first", err: &restutil.StatusError{Status: 503}}
	second := &fakeProvider{name: "second", answer: "from second"}
	third := &fakeProvider{name: "third", answer: "from third"}

	c := NewChain([]Provider{first, second, third})
	res := c.Answer(t.Context(), pythonQuestion)

	if res.Answer != "from second" || res.Provider != "second" {
		t.Errorf("result = %q from %q, want answer from second", res.Answer, res.Provider)
	}
	if res.Source != SourceProvider || res.Degraded != DegradedNone {
		t.Errorf("source = %q degraded = %q", res.Source, res.Degraded)
	}
	if third.calls.Load() != 0 {
		t.Error("third provider must not be called after a success")
	}
	if len(res.Failures) != 1 || res.Failures[0].Cause != CauseHTTPStatus {
		t.Errorf("failures = %+v, want one http_status failure", res.Failures)
	}
}

func TestChainAllFailUsesOfflineTable(t *testing.T) {
	c := NewChain([]Provider{
		&fakeProvider{name: "a", err: errors.New("refused")},
		&fakeProvider{name: "b", answer: ""},
	}, WithOffline(offline.Default()))

	res := c.Answer(t.Context(), pythonQuestion)
	if res.Source != SourceOffline {
		t.Fatalf("source = %q, want offline", res.Source)
	}
	if res.Degraded != DegradedAllProvidersFailed {
		t.Errorf("degraded = %q", res.Degraded)
	}
	if res.Provider != "" {
		t.Errorf("provider = %q, want empty", res.Provider)
	}
	if len(res.Failures) != 2 || res.Failures[1].Cause != CauseParseFailure {
		t.Errorf("failures = %+v", res.Failures)
	}
}

func TestChainAllFailGenericAnswer(t *testing.T) {
	c := NewChain([]Provider{&fakeProvider{name: "a", err: errors.New("refused")}},
		WithOffline(offline.Default()))

	res := c.Answer(t.Context(), question.Question{Text: "how do I tune the garbage collector?"})
	if res.Source != SourceFallback || res.Answer != offline.GenericAnswer {
		t.Errorf("result = %+v, want generic fallback", res)
	}
}

func TestChainLimiterDenial(t *testing.T) {
	p := &fakeProvider{name: "a", answer: "remote"}
	lim := &fixedLimiter{decision: ratelimit.Decision{Reason: ratelimit.BudgetExhausted, Wait: time.Minute}}

	c := NewChain([]Provider{p}, WithLimiter(lim), WithOffline(offline.Default()))
	res := c.Answer(t.Context(), pythonQuestion)

	if p.calls.Load() != 0 {
		t.Error("provider must not be called when the limiter denies")
	}
	if res.Degraded != DegradedBudgetExhausted || res.Wait != time.Minute {
		t.Errorf("degraded = %q wait = %v", res.Degraded, res.Wait)
	}
	if res.Source != SourceOffline {
		t.Errorf("source = %q, want offline", res.Source)
	}
}

func TestChainNoProvidersSkipsLimiter(t *testing.T) {
	lim := &fixedLimiter{decision: ratelimit.Decision{Granted: true}}
	c := NewChain(nil, WithLimiter(lim), WithOffline(offline.Default()))

	res := c.Answer(t.Context(), pythonQuestion)
	if res.Degraded != DegradedNoProviders || res.Source != SourceOffline {
		t.Errorf("result = %+v", res)
	}
	if lim.calls != 0 {
		t.Errorf("limiter consumed %d times, want 0", lim.calls)
	}
}

func TestChainTimeout(t *testing.T) {
	slow := &fakeProvider{name: "slow", answer: "late", delay: time.Second}
	fast := &fakeProvider{name: "fast", answer: "quick"}

	c := NewChain([]Provider{slow, fast}, WithTimeout(20*time.Millisecond))
	res := c.Answer(t.Context(), pythonQuestion)

	if res.Provider != "fast" {
		t.Fatalf("provider = %q, want fast", res.Provider)
	}
	if len(res.Failures) != 1 || res.Failures[0].Cause != CauseTimeout {
		t.Errorf("failures = %+v, want one timeout", res.Failures)
	}
}

func TestChainBreakerSkipsOpenProvider(t *testing.T) {
	bad := &fakeProvider{name: "bad", err: errors.New("refused")}
	good := &fakeProvider{name: "good", answer: "ok"}

	c := NewChain([]Provider{bad, good}, WithBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}))

	c.Answer(t.Context(), pythonQuestion)
	res := c.Answer(t.Context(), pythonQuestion)

	if bad.calls.Load() != 1 {
		t.Errorf("bad provider called %d times, want 1", bad.calls.Load())
	}
	if len(res.Failures) != 1 || res.Failures[0].Cause != CauseCircuitOpen {
		t.Errorf("failures = %+v, want circuit_open", res.Failures)
	}
	if got := c.BreakerStates()["bad"]; got != StateOpen {
		t.Errorf("breaker state = %q, want open", got)
	}
}

func TestChainCancelledContext(t *testing.T) {
	p := &fakeProvider{name: "a", answer: "remote"}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := NewChain([]Provider{p})
	res := c.Answer(ctx, pythonQuestion)
	if res.Answer == "" {
		t.Error("chain must always produce an answer")
	}
	if p.calls.Load() != 0 {
		t.Error("no provider should be asked after cancellation")
	}
}

func TestChainProviders(t *testing.T) {
	c := NewChain([]Provider{&fakeProvider{name: "x"}, &fakeProvider{name: "y"}})
	got := c.Providers()
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("Providers() = %v", got)
	}
}

type checkedProvider struct {
	fakeProvider
	checkErr error
}

func (c *checkedProvider) Check() error { return c.checkErr }

func TestChainOpenBreakersDoNotSpendBudget(t *testing.T) {
	bad := &fakeProvider{name: "bad", err: errors.New("refused")}
	lim := &fixedLimiter{decision: ratelimit.Decision{Granted: true}}

	c := NewChain([]Provider{bad},
		WithLimiter(lim),
		WithOffline(offline.Default()),
		WithBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}))

	c.Answer(t.Context(), pythonQuestion)
	if lim.calls != 1 {
		t.Fatalf("limiter calls = %d after first dispatch, want 1", lim.calls)
	}

	res := c.Answer(t.Context(), pythonQuestion)
	if lim.calls != 1 {
		t.Errorf("limiter calls = %d, want 1: no provider was callable", lim.calls)
	}
	if res.Degraded != DegradedAllProvidersFailed || res.Source != SourceOffline {
		t.Errorf("degraded = %q source = %q", res.Degraded, res.Source)
	}
	if len(res.Failures) != 1 || res.Failures[0].Cause != CauseCircuitOpen {
		t.Errorf("failures = %+v, want circuit_open", res.Failures)
	}
}

func TestChainUnconfiguredProvidersDoNotSpendBudget(t *testing.T) {
	p := &checkedProvider{
		fakeProvider: fakeProvider{name: "keyless", answer: "remote"},
		checkErr:     MissingCredential("keyless", "KEYLESS_API_KEY"),
	}
	lim := &fixedLimiter{decision: ratelimit.Decision{Granted: true}}

	res := NewChain([]Provider{p}, WithLimiter(lim), WithOffline(offline.Default())).
		Answer(t.Context(), pythonQuestion)

	if lim.calls != 0 || p.calls.Load() != 0 {
		t.Errorf("limiter calls = %d provider calls = %d, want 0 and 0", lim.calls, p.calls.Load())
	}
	if len(res.Failures) != 1 || res.Failures[0].Cause != CauseMissingCredential {
		t.Errorf("failures = %+v, want missing_credential", res.Failures)
	}
	if res.Source != SourceOffline {
		t.Errorf("source = %q, want offline", res.Source)
	}
}

func TestChainSkipsUnconfiguredProviderInOrder(t *testing.T) {
	keyless := &checkedProvider{
		fakeProvider: fakeProvider{name: "keyless", answer: "never"},
		checkErr:     MissingCredential("keyless", "KEYLESS_API_KEY"),
	}
	good := &fakeProvider{name: "good", answer: "from good"}
	lim := &fixedLimiter{decision: ratelimit.Decision{Granted: true}}

	res := NewChain([]Provider{keyless, good}, WithLimiter(lim)).Answer(t.Context(), pythonQuestion)

	if res.Provider != "good" || lim.calls != 1 {
		t.Errorf("provider = %q limiter calls = %d, want good and 1", res.Provider, lim.calls)
	}
	if keyless.calls.Load() != 0 {
		t.Error("unconfigured provider must not be asked")
	}
	if len(res.Failures) != 1 || res.Failures[0].Provider != "keyless" {
		t.Errorf("failures = %+v", res.Failures)
	}
}
