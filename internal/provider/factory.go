package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// New builds a provider for cfg.Type.
func New(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider config: missing id")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	switch cfg.Type {
	case "ollama", "":
		return NewOllamaProvider(cfg, logger), nil
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("provider %s: unknown type %q", cfg.ID, cfg.Type)
	}
}
