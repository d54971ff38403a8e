// Package gemini adapts the Google Gemini API to the provider capability
// set.
package gemini

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/similarity"
)

const (
	providerName          = "gemini"
	defaultChatModel      = "gemini-2.0-flash"
	defaultEmbeddingModel = "gemini-embedding-001"
	// Matryoshka output dimension, kept compatible with common indexes.
	embeddingDimension = 768
)

// Config holds client construction options.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
}

// Provider implements the LLM and embedding capability sets against the
// Gemini API.
type Provider struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	logger         *zap.Logger
}

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, providers.MapProviderError(providerName, 0, err)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	return &Provider{
		client:         client,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		logger:         logger,
	}, nil
}

func (p *Provider) ProviderName() string { return providerName }
func (p *Provider) DefaultModel() string { return p.chatModel }

// AvailableModels returns the models this deployment routes to Gemini.
// The routing table is static by design; the API's model listing is not
// consulted at request time.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{
		p.chatModel,
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
		"gemini-1.5-pro",
		p.embeddingModel,
	}, nil
}

func (p *Provider) buildRequest(req providers.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}
	config := &genai.GenerateContentConfig{}
	temp := float32(req.Temperature)
	config.Temperature = &temp
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	var system string
	if req.SystemPrompt != "" {
		system = req.SystemPrompt
	}
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case providers.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case providers.RoleAssistant:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "model",
			})
		default:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "user",
			})
		}
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return model, contents, config
}

// Generate performs a chat completion.
func (p *Provider) Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	model, contents, config := p.buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, providers.MapProviderError(providerName, 0, err)
	}
	text := resp.Text()
	if text == "" {
		return nil, apperrors.New(apperrors.CodeNetwork, "gemini returned an empty response")
	}

	var usage providers.Usage
	if resp.UsageMetadata != nil {
		usage = providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	finish := ""
	if len(resp.Candidates) > 0 {
		finish = string(resp.Candidates[0].FinishReason)
	}
	return &providers.ChatResponse{
		Content:      text,
		Provider:     providerName,
		Model:        model,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// Stream performs a streaming chat completion.
func (p *Provider) Stream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	model, contents, config := p.buildRequest(req)

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				select {
				case out <- providers.StreamChunk{Err: providers.MapProviderError(providerName, 0, err)}:
				case <-ctx.Done():
				}
				return
			}
			chunk := providers.StreamChunk{Content: resp.Text()}
			if len(resp.Candidates) > 0 {
				chunk.FinishReason = string(resp.Candidates[0].FinishReason)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ValidateConnection verifies credentials with a minimal generation call.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: "ping"}}, Role: "user"}}
	maxTokens := int32(1)
	_, err := p.client.Models.GenerateContent(ctx, p.chatModel, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return providers.MapProviderError(providerName, 0, err)
	}
	return nil
}

// Embedder implements the embedding capability set.
type Embedder struct {
	p         *Provider
	model     string
	normalize bool
}

// NewEmbedder creates the embedding view of a Gemini provider.
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

// GenerateBatch embeds texts, paginating at the provider batch cap.
func (e *Embedder) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	limit := providers.TokenLimitFor(e.model)
	for i, t := range texts {
		if providers.EstimateTokens(t) > limit {
			return nil, apperrors.Newf(apperrors.CodeInputTooLarge,
				"text %d exceeds %s token limit (%d)", i, e.model, limit)
		}
	}

	dims := int32(embeddingDimension)
	config := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += providers.MaxEmbeddingBatch {
		end := start + providers.MaxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: t}},
				Role:  "user",
			})
		}
		resp, err := e.p.client.Models.EmbedContent(ctx, e.model, contents, config)
		if err != nil {
			return nil, providers.MapProviderError(providerName, 0, err)
		}
		if resp == nil || len(resp.Embeddings) != end-start {
			return nil, apperrors.Newf(apperrors.CodeNetwork,
				"gemini returned %d embeddings for %d inputs", len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			vec := make([]float32, len(emb.Values))
			copy(vec, emb.Values)
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
