package ai

import (
	"fmt"

	"geminilegion/backend/internal/config"
)

// NewFromConfig builds the configured provider. Missing credentials are a
// configuration error and fail here, before any turn can start.
func NewFromConfig(cfg config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.DefaultModel, cfg.ProviderTimeout)
	case "", "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
