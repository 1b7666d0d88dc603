package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/provider/restutil"
	"github.com/screenqa/screenqa/pkg/question"
)

const (
	name             = "huggingface"
	defaultBaseURL   = "https://api-inference.huggingface.co/models"
	defaultTextModel = "google/flan-t5-large"
	defaultCodeModel = "bigcode/starcoder"
)

// promptTemplate frames the recognized text for instruction-tuned models.
const promptTemplate = "You are an experienced programmer and mentor. Answer briefly and clearly, " +
	"and include a code block when code is needed.\n\nQuestion:\n%s\n\nAnswer:"

func init() {
	provider.Registry.Register(name, func(config map[string]string) (provider.Provider, error) {
		return New(Config{
			APIKey:    config["huggingface_api_key"],
			BaseURL:   config["huggingface_base_url"],
			TextModel: config["huggingface_model"],
			CodeModel: config["huggingface_code_model"],
		}), nil
	})
}

// Config holds the Inference API settings.
type Config struct {
	APIKey    string
	BaseURL   string
	TextModel string
	CodeModel string
	Client    *http.Client
}

// Provider asks a hosted text-generation model. Code-shaped questions are
// routed to a code model.
type Provider struct {
	cfg Config
}

// New creates a Hugging Face provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TextModel == "" {
		cfg.TextModel = defaultTextModel
	}
	if cfg.CodeModel == "" {
		cfg.CodeModel = defaultCodeModel
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return name }

// Model returns the model a question is routed to.
func (p *Provider) Model(kind question.Kind) string {
	if kind == question.KindCode {
		return p.cfg.CodeModel
	}
	return p.cfg.TextModel
}

type parameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

// Check reports a missing or placeholder API key.
func (p *Provider) Check() error {
	if provider.IsPlaceholder(p.cfg.APIKey) {
		return provider.MissingCredential(name, "HUGGINGFACE_API_KEY")
	}
	return nil
}

func (p *Provider) Ask(ctx context.Context, q question.Question) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf(promptTemplate, q.Text)
	body := request{
		Inputs: prompt,
		Parameters: parameters{
			MaxNewTokens: 300,
			Temperature:  0.2,
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}

	raw, err := restutil.DoRaw(ctx, p.cfg.Client, http.MethodPost, p.cfg.BaseURL+"/"+p.Model(q.Kind), headers, body)
	if err != nil {
		return "", err
	}

	text, err := parseGenerated(raw)
	if err != nil {
		return "", provider.ParseFailure(name, raw, err)
	}
	return strings.TrimSpace(strings.TrimPrefix(text, prompt)), nil
}

type generation struct {
	GeneratedText *string `json:"generated_text"`
	Choices       []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error string `json:"error"`
}

// parseGenerated accepts the array form [{"generated_text": ...}], the
// object form {"generated_text": ...} and the completion form
// {"choices": [{"text": ...}]}.
func parseGenerated(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", errors.New("empty body")
	}

	var g generation
	if raw[0] == '[' {
		var arr []generation
		if err := json.Unmarshal(raw, &arr); err != nil {
			return "", err
		}
		if len(arr) == 0 {
			return "", errors.New("empty response array")
		}
		g = arr[0]
	} else if err := json.Unmarshal(raw, &g); err != nil {
		return "", err
	}

	switch {
	case g.GeneratedText != nil && strings.TrimSpace(*g.GeneratedText) != "":
		return *g.GeneratedText, nil
	case len(g.Choices) > 0 && strings.TrimSpace(g.Choices[0].Text) != "":
		return g.Choices[0].Text, nil
	case g.Error != "":
		return "", fmt.Errorf("model error: %s", g.Error)
	}
	return "", errors.New("no generated text")
}
