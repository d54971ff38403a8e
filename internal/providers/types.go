// Package providers defines the capability surface every LLM and embedding
// provider implements, plus the shared request/response types the
// orchestrator routes across them.
package providers

import (
	"context"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-neutral completion request. SystemPrompt is
// promoted into a role-system message for providers that use that form, or
// passed through the provider's dedicated system field.
type ChatRequest struct {
	Messages         []Message              `json:"messages"`
	Model            string                 `json:"model,omitempty"`
	Temperature      float64                `json:"temperature"`
	MaxTokens        int                    `json:"max_tokens,omitempty"`
	SystemPrompt     string                 `json:"system_prompt,omitempty"`
	AdditionalParams map[string]interface{} `json:"additional_params,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the provider-neutral completion result.
type ChatResponse struct {
	Content      string                 `json:"content"`
	Provider     string                 `json:"provider"`
	Model        string                 `json:"model"`
	Usage        Usage                  `json:"usage"`
	FinishReason string                 `json:"finish_reason,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// StreamChunk is a single token chunk delivered during a streaming response.
type StreamChunk struct {
	Content      string
	FinishReason string
	Err          error
}

// LLMProvider is the capability set every chat provider implements.
type LLMProvider interface {
	ProviderName() string
	DefaultModel() string
	AvailableModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
	ValidateConnection(ctx context.Context) error
}

// EmbeddingProvider is the capability set every embedding provider
// implements. Dimension never changes for a given (provider, model).
type EmbeddingProvider interface {
	Name() string
	Model() string
	Dimension() int
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
	Healthcheck(ctx context.Context) error
	EstimateCost(texts []string) float64
}

// MaxEmbeddingBatch caps the inputs sent to a hosted provider per request;
// larger batches are paginated.
const MaxEmbeddingBatch = 100

// EstimateTokens approximates the token count of text as words x 1.3.
// The true tokenizer may count fewer; providers reject inputs against this
// estimate so they never submit something the model will refuse.
func EstimateTokens(text string) int {
	return len(strings.Fields(text)) * 13 / 10
}
