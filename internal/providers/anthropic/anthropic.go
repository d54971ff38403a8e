// Package anthropic adapts the Anthropic Messages API to the provider
// capability set.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
)

const (
	providerName     = "anthropic"
	defaultModel     = "claude-3-5-haiku-20241022"
	defaultMaxTokens = 1024
)

// Config holds client construction options.
type Config struct {
	APIKey string
	Model  string
}

// Provider implements the LLM capability set against the Anthropic API.
type Provider struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// New creates an Anthropic provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
		logger: logger,
	}
}

func (p *Provider) ProviderName() string { return providerName }
func (p *Provider) DefaultModel() string { return p.model }

// AvailableModels enumerates models visible to the account.
func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, p.mapError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (p *Provider) buildParams(req providers.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// Anthropic takes the system prompt through a dedicated field; inline
	// role-system messages are folded into it as well.
	var system []string
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case providers.RoleSystem:
			system = append(system, m.Content)
		case providers.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}

// Generate performs a chat completion.
func (p *Provider) Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	params := p.buildParams(req)
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, apperrors.New(apperrors.CodeNetwork, "anthropic returned no text content")
	}
	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	return &providers.ChatResponse{
		Content:  sb.String(),
		Provider: providerName,
		Model:    string(params.Model),
		Usage: providers.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		FinishReason: string(msg.StopReason),
	}, nil
}

// Stream performs a streaming chat completion.
func (p *Provider) Stream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan providers.StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch evt := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
					select {
					case out <- providers.StreamChunk{Content: delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				if reason := string(evt.Delta.StopReason); reason != "" {
					select {
					case out <- providers.StreamChunk{FinishReason: reason}:
					case <-ctx.Done():
						return
					}
				}
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

// ValidateConnection verifies credentials with a model listing.
func (p *Provider) ValidateConnection(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return p.mapError(err)
	}
	return nil
}

func (p *Provider) mapError(err error) error {
	status := 0
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}
	return providers.MapProviderError(providerName, status, err)
}
