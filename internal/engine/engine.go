// Package engine talks to the language model that reranks retrieval
// candidates. Hosted OpenAI-compatible APIs and a local Ollama server are
// supported behind one interface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingCredential is returned when a hosted provider is configured
// without an API key.
var ErrMissingCredential = errors.New("missing oracle API key")

// Provider names accepted by New.
const (
	ProviderGroq       = "groq"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

var defaultBaseURLs = map[string]string{
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderOllama:     "http://localhost:11434",
}

// Engine sends a chat request and returns the assistant's reply text.
type Engine interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Checker is implemented by engines that can verify they are usable before a
// batch starts.
type Checker interface {
	Check(ctx context.Context, model string) error
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the engine for cfg.Provider. Hosted providers fail with
// ErrMissingCredential when no API key is set.
func New(cfg Config) (Engine, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGroq
	}
	base, ok := defaultBaseURLs[provider]
	if !ok {
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	if provider == ProviderOllama {
		return NewOllamaEngine(base, cfg.Timeout), nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingCredential, provider)
	}
	return NewOpenAIEngine(cfg.APIKey, base, cfg.Timeout), nil
}

// DefaultBaseURL returns the built-in endpoint of provider, or "".
func DefaultBaseURL(provider string) string {
	return defaultBaseURLs[strings.ToLower(provider)]
}
