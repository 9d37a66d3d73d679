package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider embeds text through the OpenAI embeddings API or any
// compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dim    dimensionCache
}

// NewOpenAIProvider creates a provider. An empty endpoint uses the public API.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := openai.NewClient(opts...)
	return newOpenAIProviderFromClient(&client, cfg)
}

func newOpenAIProviderFromClient(client *openai.Client, cfg Config) *OpenAIProvider {
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIProvider{
		client: client,
		model:  model,
		dim:    dimensionCache{configured: cfg.Dimension},
	}
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(embeddings) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		embeddings[d.Index] = vec
	}
	p.dim.observe(embeddings)
	return embeddings, nil
}

func (p *OpenAIProvider) Dimension() int { return p.dim.get() }
