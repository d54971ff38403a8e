// Package openai adapts the OpenAI API to the provider capability set.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/similarity"
)

const (
	providerName          = "openai"
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	embeddingDimension    = 1536
)

// Config holds client construction options.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	BaseURL        string
}

// Provider implements both the LLM and embedding capability sets against
// the OpenAI API.
type Provider struct {
	client         openai.Client
	chatModel      string
	embeddingModel string
	logger         *zap.Logger
}

// New creates an OpenAI provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	return &Provider{
		client:         openai.NewClient(opts...),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		logger:         logger,
	}
}

func (p *Provider) ProviderName() string { return providerName }
func (p *Provider) DefaultModel() string { return p.chatModel }

// AvailableModels enumerates models the account can use.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, p.mapError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (p *Provider) buildParams(req providers.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case providers.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case providers.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// Generate performs a chat completion.
func (p *Provider) Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	params := p.buildParams(req)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.CodeNetwork, "openai returned no choices")
	}
	choice := resp.Choices[0]
	return &providers.ChatResponse{
		Content:  choice.Message.Content,
		Provider: providerName,
		Model:    string(params.Model),
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Stream performs a streaming chat completion. The returned channel closes
// when the stream ends; a terminal error is delivered as the final chunk.
func (p *Provider) Stream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	params := p.buildParams(req)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			sc := providers.StreamChunk{Content: c.Delta.Content, FinishReason: string(c.FinishReason)}
			select {
			case out <- sc:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- providers.StreamChunk{Err: p.mapError(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// ValidateConnection verifies credentials with a cheap API call.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return p.mapError(err)
	}
	return nil
}

func (p *Provider) mapError(err error) error {
	status := 0
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}
	return providers.MapProviderError(providerName, status, err)
}

// Embedder implements the embedding capability set.
type Embedder struct {
	p         *Provider
	model     string
	normalize bool
}

// NewEmbedder creates the embedding view of an OpenAI provider.
func NewEmbedder(p *Provider, normalize bool) *Embedder {
	return &Embedder{p: p, model: p.embeddingModel, normalize: normalize}
}

func (e *Embedder) Name() string   { return providerName }
func (e *Embedder) Model() string  { return e.model }
func (e *Embedder) Dimension() int { return embeddingDimension }

// Generate embeds a single text.
func (e *Embedder) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatch embeds texts, paginating requests at the provider batch cap.
func (e *Embedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	limit := providers.TokenLimitFor(e.model)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperrors.Newf(apperrors.CodeValidation, "text %d is empty", i)
		}
		if providers.EstimateTokens(t) > limit {
			return nil, apperrors.Newf(apperrors.CodeInputTooLarge,
				"text %d exceeds %s token limit (%d)", i, e.model, limit)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += providers.MaxEmbeddingBatch {
		end := start + providers.MaxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := e.p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
		})
		if err != nil {
			return nil, e.p.mapError(err)
		}
		if len(resp.Data) != end-start {
			return nil, apperrors.Newf(apperrors.CodeNetwork,
				"openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				vec[i] = float32(f)
			}
			if e.normalize {
				similarity.Normalize(vec)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// Healthcheck verifies the embedding endpoint responds.
func (e *Embedder) Healthcheck(ctx context.Context) error {
	_, err := e.GenerateBatch(ctx, []string{"healthcheck"})
	return err
}

// EstimateCost returns the approximate USD cost of embedding texts.
func (e *Embedder) EstimateCost(texts []string) float64 {
	return providers.EstimateEmbeddingCost(e.model, texts)
}
