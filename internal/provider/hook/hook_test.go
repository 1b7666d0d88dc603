package hook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/urlvalidation"
)

func TestAskHMAC(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if got, want := r.Header.Get(SignatureHeader), Sign("s3cret", body); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Question != "What is Python?" || req.Kind != "question" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"data":{"answer":"from hook"}}`))
	}))
	defer ts.Close()

	p, err := New(Config{URL: ts.URL, AuthType: AuthHMAC, AuthSecret: "s3cret", AllowPrivate: true, Client: ts.Client()})
	if err != nil {
		t.Fatal(err)
	}
	answer, err := p.Ask(t.Context(), question.Question{Text: "What is Python?", Kind: question.KindQuestion})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "from hook" {
		t.Errorf("answer = %q", answer)
	}
}

func TestAskBearer(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"answer":"top level"}`))
	}))
	defer ts.Close()

	p, _ := New(Config{URL: ts.URL, AuthType: AuthBearer, AuthSecret: "tok-123", AllowPrivate: true, Client: ts.Client()})
	answer, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if gotAuth != "Bearer tok-123" || answer != "top level" {
		t.Errorf("auth = %q answer = %q", gotAuth, answer)
	}
}

func TestAskRejectsPrivateURL(t *testing.T) {
	p, _ := New(Config{URL: "http://127.0.0.1:9/answer"})
	_, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Cause != provider.CauseMisconfigured {
		t.Errorf("err = %v, want misconfigured", err)
	}
	if !errors.Is(err, urlvalidation.ErrPrivateAddress) {
		t.Errorf("err = %v, want ErrPrivateAddress in chain", err)
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want provider.Cause
	}{
		{"no url", Config{}, provider.CauseMissingCredential},
		{"placeholder secret", Config{URL: "https://hooks.example.com", AuthType: AuthBearer, AuthSecret: "changeme"}, provider.CauseMissingCredential},
		{"bad scheme", Config{URL: "ftp://hooks.example.com/answer"}, provider.CauseMisconfigured},
		{"no host", Config{URL: "https:///answer"}, provider.CauseMisconfigured},
		{"ok", Config{URL: "https://hooks.example.com/answer", AuthType: AuthHMAC, AuthSecret: "s3cret"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			err = p.Check()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Check = %v, want nil", err)
				}
				return
			}
			if got := provider.Classify(name, err); got == nil || got.Cause != tt.want {
				t.Errorf("Check = %v, want cause %q", err, tt.want)
			}
		})
	}
}

func TestAskMissingConfig(t *testing.T) {
	p, _ := New(Config{})
	_, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Cause != provider.CauseMissingCredential {
		t.Errorf("err = %v, want missing_credential", err)
	}

	p, _ = New(Config{URL: "https://hooks.example.com", AuthType: AuthHMAC})
	if _, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"}); !errors.As(err, &pe) {
		t.Errorf("err = %v, want missing secret", err)
	}
}

func TestNewRejectsUnknownAuth(t *testing.T) {
	if _, err := New(Config{AuthType: "basic"}); err == nil {
		t.Error("expected error for unknown auth type")
	}
}
