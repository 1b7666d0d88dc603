package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

// AgentConfig holds configuration for the screenqa service.
type AgentConfig struct {
	config.ConfigurationDefault

	// Rate limiting
	MinCallIntervalMs int `envDefault:"15000"   env:"MIN_CALL_INTERVAL_MS"`
	MaxCallsPerWindow int `envDefault:"50"      env:"MAX_CALLS_PER_WINDOW"`
	WindowDurationMs  int `envDefault:"3600000" env:"WINDOW_DURATION_MS"`

	// Deduplication and display
	DedupCooldownMs      int     `envDefault:"15000" env:"DEDUP_COOLDOWN_MS"`
	DedupHistorySize     int     `envDefault:"8"     env:"DEDUP_HISTORY_SIZE"`
	DedupSimilarity      float64 `envDefault:"0"     env:"DEDUP_SIMILARITY"`
	DisplayQuietPeriodMs int     `envDefault:"15000" env:"DISPLAY_QUIET_PERIOD_MS"`
	OverlayAddr          string  `envDefault:":8090" env:"OVERLAY_ADDR"`

	// Question filter
	MinQuestionLength    int `envDefault:"10" env:"MIN_QUESTION_LENGTH"`
	MinQuestionWordCount int `envDefault:"4"  env:"MIN_QUESTION_WORD_COUNT"`

	// Providers
	ProviderPriorityList string `envDefault:"huggingface,openai,ollama,hook" env:"PROVIDER_PRIORITY"`
	ProviderTimeoutSec   int    `envDefault:"25"                             env:"PROVIDER_TIMEOUT_SEC"`
	CBFailThreshold      int    `envDefault:"3"                              env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec    int    `envDefault:"60"                             env:"CB_RESET_TIMEOUT_SEC"`

	HuggingFaceAPIKey    string `envDefault:""                                           env:"HUGGINGFACE_API_KEY"`
	HuggingFaceBaseURL   string `envDefault:"https://api-inference.huggingface.co/models" env:"HUGGINGFACE_BASE_URL"`
	HuggingFaceModel     string `envDefault:"google/flan-t5-large"                       env:"HUGGINGFACE_MODEL"`
	HuggingFaceCodeModel string `envDefault:"bigcode/starcoder"                          env:"HUGGINGFACE_CODE_MODEL"`
	OpenAIAPIKey         string `envDefault:""                                           env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `envDefault:"https://api.openai.com/v1"                  env:"OPENAI_BASE_URL"`
	OpenAIModel          string `envDefault:"gpt-4o-mini"                                env:"OPENAI_MODEL"`
	OpenAICodeModel      string `envDefault:""                                           env:"OPENAI_CODE_MODEL"`
	OllamaBaseURL        string `envDefault:"http://localhost:11434"                     env:"OLLAMA_BASE_URL"`
	OllamaModel          string `envDefault:"llama3.2"                                   env:"OLLAMA_MODEL"`
	OllamaCodeModel      string `envDefault:""                                           env:"OLLAMA_CODE_MODEL"`
	HookURL              string `envDefault:""                                           env:"HOOK_URL"`
	HookAuthType         string `envDefault:"hmac"                                       env:"HOOK_AUTH_TYPE"`
	HookAuthSecret       string `envDefault:""                                           env:"HOOK_AUTH_SECRET"`
	HookAllowPrivate     bool   `envDefault:"false"                                      env:"HOOK_ALLOW_PRIVATE"`

	// Offline answers
	OfflineAnswersFile string `envDefault:""     env:"OFFLINE_ANSWERS_FILE"`
	OfflineWatch       bool   `envDefault:"true" env:"OFFLINE_WATCH"`

	// Capture
	FrameSource     string `envDefault:"zmq"                  env:"FRAME_SOURCE"`
	ZMQEndpoint     string `envDefault:"tcp://127.0.0.1:5557" env:"ZMQ_ENDPOINT"`
	ZMQCodec        string `envDefault:"cbor"                 env:"ZMQ_CODEC"`
	GstURI          string `envDefault:""                     env:"GST_URI"`
	GstWidth        int    `envDefault:"1280"                 env:"GST_WIDTH"`
	GstHeight       int    `envDefault:"720"                  env:"GST_HEIGHT"`
	GstFPS          int    `envDefault:"1"                    env:"GST_FPS"`
	FrameDir        string `envDefault:"./frames"             env:"FRAME_DIR"`
	FrameIntervalMs int    `envDefault:"1000"                 env:"FRAME_INTERVAL_MS"`

	// Recognition
	OCRBackend   string `envDefault:"tesseract" env:"OCR_BACKEND"`
	OCRLanguages string `envDefault:"eng"       env:"OCR_LANGUAGES"`
	OCRMaxWidth  int    `envDefault:"1280"      env:"OCR_MAX_WIDTH"`

	// Control API
	ControlAuthEnabled bool `envDefault:"false" env:"CONTROL_AUTH_ENABLED"`
	EventJournalSize   int  `envDefault:"200"   env:"EVENT_JOURNAL_SIZE"`
}

// ProviderPriority returns the configured provider names in order,
// lower-cased and without duplicates.
func (c *AgentConfig) ProviderPriority() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range strings.Split(c.ProviderPriorityList, ",") {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

// ProviderSettings returns the flat settings map handed to provider
// factories.
func (c *AgentConfig) ProviderSettings() map[string]string {
	return map[string]string{
		"huggingface_api_key":    c.HuggingFaceAPIKey,
		"huggingface_base_url":   c.HuggingFaceBaseURL,
		"huggingface_model":      c.HuggingFaceModel,
		"huggingface_code_model": c.HuggingFaceCodeModel,
		"openai_api_key":         c.OpenAIAPIKey,
		"openai_base_url":        c.OpenAIBaseURL,
		"openai_model":           c.OpenAIModel,
		"openai_code_model":      c.OpenAICodeModel,
		"ollama_base_url":        c.OllamaBaseURL,
		"ollama_model":           c.OllamaModel,
		"ollama_code_model":      c.OllamaCodeModel,
		"hook_url":               c.HookURL,
		"hook_auth_type":         c.HookAuthType,
		"hook_auth_secret":       c.HookAuthSecret,
		"hook_allow_private":     strconv.FormatBool(c.HookAllowPrivate),
	}
}

// RecognizerSettings returns the settings map handed to recognizer
// factories.
func (c *AgentConfig) RecognizerSettings() map[string]string {
	return map[string]string{
		"languages": c.OCRLanguages,
		"max_width": strconv.Itoa(c.OCRMaxWidth),
	}
}

// Millis converts a millisecond setting into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
