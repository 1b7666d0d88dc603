package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/screenqa/screenqa/internal/provider/restutil"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCause  Cause
		wantStatus int
	}{
		{"deadline", fmt.Errorf("do request: %w", context.DeadlineExceeded), CauseTimeout, 0},
		{"status", &restutil.StatusError{Status: 503, Body: "loading"}, CauseHTTPStatus, 503},
		{"decode", &restutil.DecodeError{Err: errors.New("bad json")}, CauseParseFailure, 0},
		{"transport", errors.New("connection refused"), CauseTransport, 0},
		{"already classified", MissingCredential("x", "X_KEY"), CauseMissingCredential, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("p", tt.err)
			if got.Cause != tt.wantCause {
				t.Errorf("cause = %q, want %q", got.Cause, tt.wantCause)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", got.Status, tt.wantStatus)
			}
			if got.Provider == "" {
				t.Error("provider name should be set")
			}
		})
	}

	if Classify("p", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Provider: "openai", Cause: CauseHTTPStatus, Status: 429, Err: errors.New("slow down")}
	want := "provider openai: http_status (HTTP 429): slow down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsPlaceholder(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"your_api_key", true},
		{"<HUGGINGFACE_TOKEN>", true},
		{"hf_xxxxxxxxxxxx", true},
		{"CHANGEME", true},
		{"hf_aB3dE5gH7jK9", false},
		{"sk-proj-4f8a2c", false},
	}
	for _, tt := range tests {
		if got := IsPlaceholder(tt.key); got != tt.want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestParseFailureTruncatesBody(t *testing.T) {
	body := make([]byte, 500)
	for i := range body {
		body[i] = 'a'
	}
	err := ParseFailure("p", body, errors.New("x"))
	if len(err.Body) != 203 {
		t.Errorf("body len = %d, want 203", len(err.Body))
	}
}

func TestFromPriority(t *testing.T) {
	Registry.Register("test-echo", func(map[string]string) (Provider, error) {
		return &fakeProvider{name: "test-echo", answer: "echo"}, nil
	})
	Registry.Register("test-broken", func(map[string]string) (Provider, error) {
		return nil, errors.New("bad settings")
	})

	got, err := FromPriority([]string{"missing", "test-echo"}, nil)
	if err != nil {
		t.Fatalf("FromPriority: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "test-echo" {
		t.Errorf("providers = %v", got)
	}

	if _, err := FromPriority([]string{"test-broken"}, nil); err == nil {
		t.Error("expected factory error")
	}
}
