package hook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/provider/restutil"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/urlvalidation"
)

const name = "hook"

// Auth types.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthHMAC   = "hmac"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Hook-Signature"

func init() {
	provider.Registry.Register(name, func(config map[string]string) (provider.Provider, error) {
		allowPrivate, _ := strconv.ParseBool(config["hook_allow_private"])
		return New(Config{
			URL:          config["hook_url"],
			AuthType:     config["hook_auth_type"],
			AuthSecret:   config["hook_auth_secret"],
			AllowPrivate: allowPrivate,
		})
	})
}

// Config describes how to call a user-operated answer endpoint.
type Config struct {
	URL          string
	AuthType     string
	AuthSecret   string
	Headers      map[string]string
	AllowPrivate bool
	Client       *http.Client
}

// Request is the payload posted to the endpoint.
type Request struct {
	Question string `json:"question"`
	Kind     string `json:"kind"`
	SentAt   string `json:"sent_at"`
}

// Response is the accepted reply. The answer may sit at the top level or
// under "data".
type Response struct {
	Answer string `json:"answer"`
	Data   struct {
		Answer string `json:"answer"`
	} `json:"data"`
}

// Provider posts questions to an external HTTP endpoint.
type Provider struct {
	cfg      Config
	validate []urlvalidation.Option
}

// New creates a hook provider.
func New(cfg Config) (*Provider, error) {
	if cfg.AuthType == "" {
		cfg.AuthType = AuthNone
	}
	switch cfg.AuthType {
	case AuthNone, AuthBearer, AuthHMAC:
	default:
		return nil, fmt.Errorf("hook: unknown auth type %q", cfg.AuthType)
	}

	p := &Provider{cfg: cfg}
	if cfg.AllowPrivate {
		p.validate = append(p.validate, urlvalidation.AllowPrivateIPs())
	} else if cfg.Client == nil {
		p.cfg.Client = urlvalidation.NewClient(60 * time.Second)
	}
	return p, nil
}

func (p *Provider) Name() string { return name }

// Check reports settings that make every call fail: no URL, a missing
// secret for the auth type, or a URL that cannot be an endpoint.
func (p *Provider) Check() error {
	if strings.TrimSpace(p.cfg.URL) == "" {
		return provider.MissingCredential(name, "HOOK_URL")
	}
	if p.cfg.AuthType != AuthNone && provider.IsPlaceholder(p.cfg.AuthSecret) {
		return provider.MissingCredential(name, "HOOK_AUTH_SECRET")
	}
	u, err := url.Parse(p.cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return provider.Misconfigured(name, fmt.Errorf("%w: %q", urlvalidation.ErrInvalidEndpoint, p.cfg.URL))
	}
	return nil
}

func (p *Provider) Ask(ctx context.Context, q question.Question) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}
	if err := urlvalidation.ValidateEndpoint(ctx, p.cfg.URL, p.validate...); err != nil {
		if errors.Is(err, urlvalidation.ErrInvalidEndpoint) || errors.Is(err, urlvalidation.ErrPrivateAddress) {
			return "", provider.Misconfigured(name, err)
		}
		return "", fmt.Errorf("hook endpoint lookup: %w", err)
	}

	body, err := json.Marshal(Request{
		Question: q.Text,
		Kind:     string(q.Kind),
		SentAt:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal hook request: %w", err)
	}

	headers := make(map[string]string, len(p.cfg.Headers)+1)
	for k, v := range p.cfg.Headers {
		headers[k] = v
	}
	switch p.cfg.AuthType {
	case AuthBearer:
		headers["Authorization"] = "Bearer " + p.cfg.AuthSecret
	case AuthHMAC:
		headers[SignatureHeader] = Sign(p.cfg.AuthSecret, body)
	}

	raw, err := restutil.DoRaw(ctx, p.cfg.Client, http.MethodPost, p.cfg.URL, headers, body)
	if errors.Is(err, urlvalidation.ErrPrivateAddress) || errors.Is(err, urlvalidation.ErrInvalidEndpoint) {
		return "", provider.Misconfigured(name, err)
	}
	if err != nil {
		return "", err
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", provider.ParseFailure(name, raw, err)
	}
	answer := strings.TrimSpace(resp.Answer)
	if answer == "" {
		answer = strings.TrimSpace(resp.Data.Answer)
	}
	if answer == "" {
		return "", provider.ParseFailure(name, raw, errors.New("no answer field"))
	}
	return answer, nil
}

// Sign returns the signature header value for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%x", mac.Sum(nil))
}
