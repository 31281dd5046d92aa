// Package embedding defines the embedding-provider boundary and a
// google.golang.org/genai-backed implementation.
package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/logging"
)

// Dimension is the fixed embedding width every ProblemMention and
// ProblemConcept embedding, and every vector index, uses.
const Dimension = 1536

// Provider is the embedding boundary: text in, a fixed-dimension
// vector out.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeminiProvider implements Provider against Google's Generative AI
// embedding endpoint.
type GeminiProvider struct {
	client *genai.Client
	model  string
	log    *logging.Logger
}

// NewGeminiProvider builds a provider bound to apiKey and model (e.g.
// "text-embedding-004").
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, agkerrors.Validation("embedding api key is required")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, log: logging.For("embedding")}, nil
}

// Embed returns the embedding vector for text, padded or truncated to
// Dimension if the provider returns a different width.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), nil)
	if err != nil {
		return nil, agkerrors.Transient(err, "embedding request failed")
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, agkerrors.Pipeline(fmt.Errorf("empty embedding"), "provider returned no vector")
	}

	vec := resp.Embeddings[0].Values
	if len(vec) == Dimension {
		return vec, nil
	}
	out := make([]float32, Dimension)
	copy(out, vec)
	return out, nil
}
