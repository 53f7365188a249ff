package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient talks to the OpenAI chat and embeddings endpoints.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	log            *zap.Logger
}

// OpenAIOptions configures NewOpenAIClient.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Logger         *zap.Logger
}

// NewOpenAIClient builds a client. The API key must already be validated.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	embedding := opts.EmbeddingModel
	if embedding == "" {
		embedding = string(openai.LargeEmbedding3)
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embedding,
		log:            log.Named("openai"),
	}
}

func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	o.log.Debug("sending prompt", zap.String("model", o.model), zap.Int("bytes", len(prompt)))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", serviceError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", serviceError("complete", errors.New("no choices in response"))
	}

	o.log.Debug("received completion",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds several texts in one request, preserving order.
func (o *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, serviceError("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, serviceError("embed", errors.New("embedding count does not match input count"))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, serviceError("embed", errors.New("embedding index out of range"))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
