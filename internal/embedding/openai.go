package embedding

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint
// (OpenAI, Ollama, SiliconFlow, DashScope and similar).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client     *openai.Client
	model      string
	dimensions int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an embedder for cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions must be positive")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	norm, err := prepare(text)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{norm},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, unavailable(errors.Wrap(err, "create embeddings failed"))
	}
	if len(resp.Data) == 0 {
		return nil, unavailable(errors.New("empty embedding response"))
	}

	vec := resp.Data[0].Embedding
	if len(vec) != o.dimensions {
		return nil, unavailable(fmt.Errorf("model returned %d dimensions, want %d", len(vec), o.dimensions))
	}
	return vec, nil
}

// Model returns "openai:<model>@<dimensions>". Dimensions are part of the tag
// because a reduced-dimension vector is not comparable with a full one.
func (o *OpenAI) Model() string {
	return fmt.Sprintf("openai:%s@%d", o.model, o.dimensions)
}

func (o *OpenAI) Dimensions() int {
	return o.dimensions
}
