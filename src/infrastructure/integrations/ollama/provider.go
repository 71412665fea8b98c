package ollama

import (
	"context"
)

// CompletionProvider binds a Client to a reasoning model so callers do not
// carry model names around.
type CompletionProvider struct {
	client *Client
	model  string
}

func NewCompletionProvider(client *Client, model string) *CompletionProvider {
	return &CompletionProvider{
		client: client,
		model:  model,
	}
}

func (p *CompletionProvider) Generate(ctx context.Context, system string, prompt string) (string, error) {
	return p.client.Generate(ctx, p.model, system, prompt, map[string]interface{}{
		"temperature": 0.7,
		"top_p":       0.9,
	})
}

// Classify runs a deterministic generation suited for routing decisions.
func (p *CompletionProvider) Classify(ctx context.Context, system string, prompt string) (string, error) {
	return p.client.Generate(ctx, p.model, system, prompt, map[string]interface{}{
		"temperature": 0.0,
	})
}

// EmbeddingProvider binds a Client to an embedding model and its configured
// dimensionality.
type EmbeddingProvider struct {
	client    *Client
	model     string
	dimension int
}

func NewEmbeddingProvider(client *Client, model string, dimension int) *EmbeddingProvider {
	return &EmbeddingProvider{
		client:    client,
		model:     model,
		dimension: dimension,
	}
}

func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.client.Embed(ctx, p.model, texts)
}

// Dimension returns the configured vector dimensionality for the bound model.
func (p *EmbeddingProvider) Dimension() int {
	return p.dimension
}
