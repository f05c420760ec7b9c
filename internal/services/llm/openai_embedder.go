package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
)

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int64
	logger     arbor.ILogger
}

// NewOpenAIEmbedder creates an embedder; dimensions of 0 keep the model default
func NewOpenAIEmbedder(config *common.OpenAIConfig, logger arbor.ILogger) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for openai embeddings (set GLEANER_OPENAI_API_KEY, OPENAI_API_KEY or openai.api_key in config)")
	}
	model := config.EmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(
			option.WithAPIKey(config.APIKey),
			option.WithMaxRetries(0),
		),
		model:      model,
		dimensions: config.Dimensions,
		logger:     logger,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(e.dimensions)
	}

	start := time.Now()
	resp, err := e.client.Embeddings.New(ctx, params)
	observeCall(ProviderOpenAI, "embed", start, err)
	if err != nil {
		return nil, backendError(ProviderOpenAI, "embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: no embeddings generated")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}
