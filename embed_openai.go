package synapse

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIEmbedder generates vector embeddings via the OpenAI embeddings API.
// Implements EmbeddingProvider.
type OpenAIEmbedder struct {
	client    oai.Client
	model     string
	dimension int
	baseURL   string
}

// OpenAIOption configures an OpenAIEmbedder before its client is built.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAIModel sets the embedding model (default: text-embedding-3-small).
func WithOpenAIModel(model string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.model = model }
}

// WithOpenAIDimension sets the output embedding dimension (default: 1536).
func WithOpenAIDimension(dim int) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.dimension = dim }
}

// WithOpenAIBaseURL sets the API base URL (default: https://api.openai.com).
// Useful for Azure OpenAI, proxies, or compatible APIs.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.baseURL = url }
}

// NewOpenAIEmbedder creates an embedding provider for OpenAI's embedding models.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		model:     oai.EmbeddingModelTextEmbedding3Small,
		dimension: 1536,
	}
	for _, opt := range opts {
		opt(e)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if e.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(e.baseURL))
	}
	e.client = oai.NewClient(reqOpts...)
	return e
}

// Embed generates a vector for the given text. taskType is accepted for
// interface compatibility but ignored (OpenAI embeddings have no
// task-specific modes).
func (e *OpenAIEmbedder) Embed(ctx context.Context, text, _ string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model:      e.model,
		Input:      oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		Dimensions: param.NewOpt(int64(e.dimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
