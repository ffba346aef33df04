package llms

import (
	"fmt"

	"github.com/planhub/ai-engine/pkg/config"
)

// NewProvider builds a chat provider from configuration.
func NewProvider(cfg *config.LLMProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}

	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %q", cfg.Type)
	}
}
