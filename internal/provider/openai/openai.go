package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/provider/restutil"
	"github.com/screenqa/screenqa/pkg/question"
)

const (
	name             = "openai"
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	systemPrompt     = "You answer programming and technical questions read from a screen. Be concise; use fenced code blocks for code."
	codeSystemPrompt = "You are reviewing a code snippet read from a screen. Explain what it does and point out bugs. Be concise; use fenced code blocks."
)

func init() {
	provider.Registry.Register(name, func(config map[string]string) (provider.Provider, error) {
		return New(Config{
			APIKey:    config["openai_api_key"],
			BaseURL:   config["openai_base_url"],
			Model:     config["openai_model"],
			CodeModel: config["openai_code_model"],
		}), nil
	})
}

// Config holds the chat completions settings. Any OpenAI-compatible
// endpoint works.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	CodeModel string
	Client    *http.Client
}

// Provider asks an OpenAI-compatible chat completions endpoint.
type Provider struct {
	cfg Config
}

// New creates an OpenAI provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.CodeModel == "" {
		cfg.CodeModel = cfg.Model
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Check reports a missing or placeholder API key.
func (p *Provider) Check() error {
	if provider.IsPlaceholder(p.cfg.APIKey) {
		return provider.MissingCredential(name, "OPENAI_API_KEY")
	}
	return nil
}

func (p *Provider) Ask(ctx context.Context, q question.Question) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}

	req := chatRequest{
		Model:       p.cfg.Model,
		Temperature: 0.2,
		MaxTokens:   400,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: q.Text},
		},
	}
	if q.Kind == question.KindCode {
		req.Model = p.cfg.CodeModel
		req.Messages[0].Content = codeSystemPrompt
	}

	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	var resp chatResponse
	if err := restutil.DoJSON(ctx, p.cfg.Client, http.MethodPost, p.cfg.BaseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", provider.ParseFailure(name, nil, errors.New("no choices"))
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", provider.ParseFailure(name, nil, errors.New("empty message content"))
	}
	return answer, nil
}
