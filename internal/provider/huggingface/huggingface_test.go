package huggingface

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/pkg/question"
)

func TestAskRoutesByKind(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer hf_live_token" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Parameters.MaxNewTokens != 300 {
			t.Errorf("max_new_tokens = %d, want 300", req.Parameters.MaxNewTokens)
		}
		json.NewEncoder(w).Encode([]map[string]string{{"generated_text": req.Inputs + " Generated answer."}})
	}))
	defer ts.Close()

	p := New(Config{APIKey: "hf_live_token", BaseURL: ts.URL + "/", Client: ts.Client()})

	answer, err := p.Ask(t.Context(), question.Question{Text: "What is Python?", Kind: question.KindQuestion})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Generated answer." {
		t.Errorf("answer = %q, want echoed prompt stripped", answer)
	}

	if _, err := p.Ask(t.Context(), question.Question{Text: "def add(a, b): return a + b", Kind: question.KindCode}); err != nil {
		t.Fatalf("Ask code: %v", err)
	}

	want := []string{"/" + defaultTextModel, "/" + defaultCodeModel}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestAskPlaceholderKey(t *testing.T) {
	p := New(Config{APIKey: "your_api_key"})
	_, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"})

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Cause != provider.CauseMissingCredential {
		t.Errorf("err = %v, want missing_credential", err)
	}
}

func TestAskUnparseable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estimated_time": 20}`))
	}))
	defer ts.Close()

	p := New(Config{APIKey: "hf_live_token", BaseURL: ts.URL, Client: ts.Client()})
	_, err := p.Ask(t.Context(), question.Question{Text: "What is Go?"})

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Cause != provider.CauseParseFailure {
		t.Errorf("err = %v, want parse_failure", err)
	}
}

func TestParseGenerated(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"array", `[{"generated_text":"a"}]`, "a", false},
		{"object", `{"generated_text":"b"}`, "b", false},
		{"choices", `{"choices":[{"text":"c"}]}`, "c", false},
		{"empty array", `[]`, "", true},
		{"model error", `{"error":"Model is loading"}`, "", true},
		{"blank", `{"generated_text":"  "}`, "", true},
		{"not json", `oops`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGenerated([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistered(t *testing.T) {
	p, err := provider.Registry.Create(name, map[string]string{"huggingface_api_key": "hf_abc"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.EqualFold(p.Name(), name) {
		t.Errorf("name = %q", p.Name())
	}
}
