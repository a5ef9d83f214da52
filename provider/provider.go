package provider

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/salestack/dealsense/config"
	openai_provider "github.com/salestack/dealsense/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the interface the scoring agents use to talk to an LLM.
// CompleteJSON must return the raw JSON object emitted by the model along
// with input/output token counts for cost tracking.
type Provider interface {
	CompleteJSON(ctx context.Context, system, user string) (string, int64, int64, error)
	Model() string
}

// NewProvider builds an LLM client from configuration, falling back to
// environment variables when the config carries no provider section.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	prov, ok := cfg.Providers["openai"]
	if !ok {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.NewClient(apiKey, "gpt-4o", 0.3, 4096, 30*time.Second), nil
	}
	if prov.Type != "" && prov.Type != "openai" {
		return nil, errors.New("unsupported LLM provider: " + prov.Type)
	}
	apiKey := prov.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("llm.providers.openai.api_key not configured")
	}
	model := cfg.Routing.Scoring
	if model == "" {
		model = cfg.Routing.Fallback
	}
	temperature := 0.3
	maxTokens := 4096
	if m, ok := prov.Models[model]; ok {
		if m.APIName != "" {
			model = m.APIName
		}
		if m.Temperature > 0 {
			temperature = m.Temperature
		}
		if m.MaxTokens > 0 {
			maxTokens = m.MaxTokens
		}
	}
	if model == "" {
		model = "gpt-4o"
	}
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return openai_provider.NewClient(apiKey, model, temperature, maxTokens, timeout), nil
}
