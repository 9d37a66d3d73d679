package embedding

import (
	"context"
	"fmt"
	"sync"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "openai", "ollama" or "gemini"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the provider named in cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai", "api":
		return NewOpenAIProvider(cfg), nil
	case "ollama", "local":
		return NewOllamaProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(context.Background(), cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// dimensionCache remembers the width of the first vector a provider returns.
type dimensionCache struct {
	configured int
	once       sync.Once
	observed   int
}

func (d *dimensionCache) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.once.Do(func() {
			d.observed = len(vectors[0])
		})
	}
}

// get returns the observed width, or the configured one before any call.
func (d *dimensionCache) get() int {
	if d.observed > 0 {
		return d.observed
	}
	return d.configured
}
