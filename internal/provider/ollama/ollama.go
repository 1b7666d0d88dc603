package ollama

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
	name           = "ollama"
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
)

func init() {
	provider.Registry.Register(name, func(config map[string]string) (provider.Provider, error) {
		return New(Config{
			BaseURL:   config["ollama_base_url"],
			Model:     config["ollama_model"],
			CodeModel: config["ollama_code_model"],
		}), nil
	})
}

// Config holds the local Ollama server settings.
type Config struct {
	BaseURL   string
	Model     string
	CodeModel string
	Client    *http.Client
}

// Provider asks a local Ollama server. It needs no credential.
type Provider struct {
	cfg Config
}

// New creates an Ollama provider.
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

type options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (p *Provider) Ask(ctx context.Context, q question.Question) (string, error) {
	req := generateRequest{
		Model:   p.cfg.Model,
		Prompt:  q.Text,
		System:  "Answer the technical question concisely. Use fenced code blocks for code.",
		Options: options{Temperature: 0.2, NumPredict: 400},
	}
	if q.Kind == question.KindCode {
		req.Model = p.cfg.CodeModel
		req.System = "Explain the code snippet and point out any bugs. Be concise."
	}

	var resp generateResponse
	if err := restutil.DoJSON(ctx, p.cfg.Client, http.MethodPost, p.cfg.BaseURL+"/api/generate", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", provider.ParseFailure(name, nil, errors.New(resp.Error))
	}
	answer := strings.TrimSpace(resp.Response)
	if answer == "" {
		return "", provider.ParseFailure(name, nil, errors.New("empty response"))
	}
	return answer, nil
}
