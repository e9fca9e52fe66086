package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/jarvis/internal/reliability"
)

const defaultOpenAIEmbeddingDim = 1536

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
}

// NewOpenAIEmbedder builds an embedder against api.openai.com or any
// compatible baseURL (empty baseURL means the official endpoint).
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai embedder requires an api key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSpace(baseURL)
	}
	if strings.TrimSpace(model) == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dim <= 0 {
		dim = defaultOpenAIEmbeddingDim
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
		dim:    dim,
	}, nil
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil && isRetryableAPIError(err) && ctx.Err() == nil {
		// One immediate second attempt on throttling or a server-side
		// blip; anything beyond that is the caller's degradation path.
		resp, err = e.client.CreateEmbeddings(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}

func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
}
