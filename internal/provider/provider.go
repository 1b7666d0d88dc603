package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/screenqa/screenqa/internal/provider/restutil"
	"github.com/screenqa/screenqa/internal/registry"
	"github.com/screenqa/screenqa/pkg/question"
)

// Provider is one remote answer backend. Adapters shape their own request
// from the question kind and parse their own response format.
type Provider interface {
	Name() string
	Ask(ctx context.Context, q question.Question) (string, error)
}

// Checker is implemented by providers that can tell without a network
// call that Ask would fail. Check returns the error Ask would return.
type Checker interface {
	Check() error
}

// Registry holds the available provider backends.
var Registry = registry.New[Provider]("provider")

// Cause classifies a provider failure.
type Cause string

const (
	CauseTimeout           Cause = "timeout"
	CauseHTTPStatus        Cause = "http_status"
	CauseParseFailure      Cause = "parse_failure"
	CauseMissingCredential Cause = "missing_credential"
	CauseMisconfigured     Cause = "misconfigured"
	CauseTransport         Cause = "transport"
	CauseCircuitOpen       Cause = "circuit_open"
)

// Error is a recoverable failure of a single provider.
type Error struct {
	Provider string
	Cause    Cause
	Status   int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: %s", e.Provider, e.Cause)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify converts any error returned by a provider into an *Error.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		return pe
	}

	out := &Error{Provider: provider, Cause: CauseTransport, Err: err}

	var se *restutil.StatusError
	var de *restutil.DecodeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Cause = CauseTimeout
	case errors.As(err, &se):
		out.Cause = CauseHTTPStatus
		out.Status = se.Status
		out.Body = se.Body
	case errors.As(err, &de):
		out.Cause = CauseParseFailure
	}
	return out
}

// MissingCredential builds the error for an absent or placeholder key.
func MissingCredential(provider, setting string) *Error {
	return &Error{
		Provider: provider,
		Cause:    CauseMissingCredential,
		Err:      fmt.Errorf("%s is not configured", setting),
	}
}

// Misconfigured builds the error for a setting the provider refuses to
// use, such as an endpoint that fails validation.
func Misconfigured(provider string, err error) *Error {
	return &Error{Provider: provider, Cause: CauseMisconfigured, Err: err}
}

// ParseFailure builds the error for an unusable response body.
func ParseFailure(provider string, body []byte, err error) *Error {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return &Error{Provider: provider, Cause: CauseParseFailure, Body: s, Err: err}
}

var placeholders = []string{
	"changeme", "change_me", "replace_me", "your_api_key", "your-api-key",
	"your_token", "api_key_here", "todo", "none", "null",
}

// IsPlaceholder reports whether a credential is empty or an obvious
// template value that must not be sent to a provider.
func IsPlaceholder(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return true
	}
	if strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">") {
		return true
	}
	if strings.Contains(k, "xxxx") || strings.HasSuffix(k, "_xxx") {
		return true
	}
	for _, p := range placeholders {
		if k == p {
			return true
		}
	}
	return false
}

// FromPriority creates the named providers in order. Unknown names are
// skipped with a warning; a factory error aborts.
func FromPriority(names []string, settings map[string]string) ([]Provider, error) {
	var providers []Provider
	for _, name := range names {
		if !Registry.Has(name) {
			slog.Warn("provider: unknown backend in priority list, skipping",
				slog.String("provider", name), slog.Any("available", Registry.List()))
			continue
		}
		p, err := Registry.Create(name, settings)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
