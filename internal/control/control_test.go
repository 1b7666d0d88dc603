package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/screenqa/screenqa/internal/connectutil"
	"github.com/screenqa/screenqa/internal/pipeline"
	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/ratelimit"
)

type fakePipeline struct {
	submitted []string
}

func (f *fakePipeline) Submit(_ context.Context, text string) pipeline.Outcome {
	f.submitted = append(f.submitted, text)
	return pipeline.OutcomeDispatched
}

func (f *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{Frames: 3, Dispatched: uint64(len(f.submitted))}
}

type fakeChain struct{}

func (fakeChain) Providers() []string { return []string{"huggingface", "ollama"} }

func (fakeChain) BreakerStates() map[string]string {
	return map[string]string{"huggingface": "open", "ollama": "closed"}
}

func newTestServer(t *testing.T, svc *Service) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	path, h := NewHandler(svc, connectutil.DefaultOptions()...)
	mux.Handle(path, h)
	mux.Handle("/api/status", svc.StatusHandler())

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.Client(), ts.URL, connectutil.DefaultClientOptions()...)
}

func TestAsk(t *testing.T) {
	p := &fakePipeline{}
	_, client := newTestServer(t, NewService(p, nil, nil, nil, nil))

	outcome, err := client.Ask(t.Context(), "  What is Python?  ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if outcome != string(pipeline.OutcomeDispatched) {
		t.Errorf("outcome = %q", outcome)
	}
	if len(p.submitted) != 1 || p.submitted[0] != "What is Python?" {
		t.Errorf("submitted = %v", p.submitted)
	}

	_, err = client.Ask(t.Context(), "   ")
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestStatusAndResetBudget(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{MinInterval: -1, MaxCalls: 2, Window: time.Hour})
	lim.TryAcquire()
	lim.TryAcquire()

	pub := events.NewPublisher(nil, "test", "")
	journal := events.NewJournal(10)
	ch := pub.Watch(t.Context(), 4)

	_, client := newTestServer(t, NewService(&fakePipeline{}, lim, fakeChain{}, journal, pub))

	st, err := client.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Budget == nil || st.Budget.CallCount != 2 || st.Remaining != 0 {
		t.Errorf("budget = %+v remaining = %d", st.Budget, st.Remaining)
	}
	if st.Breakers["huggingface"] != "open" || len(st.Providers) != 2 {
		t.Errorf("providers = %v breakers = %v", st.Providers, st.Breakers)
	}
	if st.Pipeline.Frames != 3 {
		t.Errorf("pipeline stats = %+v", st.Pipeline)
	}

	b, err := client.ResetBudget(t.Context())
	if err != nil {
		t.Fatalf("ResetBudget: %v", err)
	}
	if b.CallCount != 0 || b.Remaining() != 2 {
		t.Errorf("budget after reset = %+v", b)
	}

	select {
	case env := <-ch:
		if env.Type != events.BudgetReset {
			t.Errorf("event = %q, want budget.reset", env.Type)
		}
	case <-time.After(time.Second):
		t.Error("no budget.reset event")
	}
}

func TestResetBudgetWithoutLimiter(t *testing.T) {
	_, client := newTestServer(t, NewService(&fakePipeline{}, nil, nil, nil, nil))
	_, err := client.ResetBudget(t.Context())
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("code = %v, want failed_precondition", connect.CodeOf(err))
	}
}

func TestStatusHandler(t *testing.T) {
	ts, _ := newTestServer(t, NewService(&fakePipeline{}, nil, fakeChain{}, nil, nil))

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Budget != nil {
		t.Error("budget should be omitted without a limiter")
	}
	if len(st.Providers) != 2 {
		t.Errorf("providers = %v", st.Providers)
	}

	post, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", post.StatusCode)
	}
}
