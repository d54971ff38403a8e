package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesage/pagesage/internal/apperrors"
)

func TestMapProviderErrorStatusCodes(t *testing.T) {
	base := errors.New("upstream said no")
	tests := []struct {
		name   string
		status int
		want   apperrors.Code
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.CodeProviderAuth},
		{"forbidden", http.StatusForbidden, apperrors.CodeProviderAuth},
		{"not found", http.StatusNotFound, apperrors.CodeModelNotFound},
		{"throttled", http.StatusTooManyRequests, apperrors.CodeRateLimit},
		{"payment required", http.StatusPaymentRequired, apperrors.CodeQuotaExceeded},
		{"bad request", http.StatusBadRequest, apperrors.CodeInvalidRequest},
		{"unprocessable", http.StatusUnprocessableEntity, apperrors.CodeInvalidRequest},
		{"server error", http.StatusInternalServerError, apperrors.CodeNetwork},
		{"bad gateway", http.StatusBadGateway, apperrors.CodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapProviderError("openai", tt.status, base)
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestMapProviderErrorMessageFallbacks(t *testing.T) {
	tests := []struct {
		msg  string
		want apperrors.Code
	}{
		{"Rate limit reached for requests", apperrors.CodeRateLimit},
		{"you have exceeded your quota", apperrors.CodeQuotaExceeded},
		{"incorrect API key provided", apperrors.CodeProviderAuth},
		{"the model gpt-9 was not found", apperrors.CodeModelNotFound},
		{"request timeout while waiting", apperrors.CodeTimeout},
		{"something else entirely", apperrors.CodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := MapProviderError("anthropic", 0, errors.New(tt.msg))
			assert.Equal(t, tt.want, apperrors.CodeOf(err))
		})
	}
}

func TestMapProviderErrorContext(t *testing.T) {
	assert.Nil(t, MapProviderError("openai", 0, nil))

	err := MapProviderError("openai", 0, context.DeadlineExceeded)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.CodeOf(err))

	// Cancellation passes through so callers can tell it apart from
	// provider failures.
	err = MapProviderError("openai", 0, context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsFailover(t *testing.T) {
	assert.True(t, IsFailover(apperrors.New(apperrors.CodeRateLimit, "x")))
	assert.True(t, IsFailover(apperrors.New(apperrors.CodeNetwork, "x")))
	assert.True(t, IsFailover(apperrors.New(apperrors.CodeTimeout, "x")))
	assert.True(t, IsFailover(apperrors.New(apperrors.CodeProviderAuth, "x")))
	assert.True(t, IsFailover(errors.New("unclassified")))

	assert.False(t, IsFailover(apperrors.New(apperrors.CodeInvalidRequest, "x")))
	assert.False(t, IsFailover(apperrors.New(apperrors.CodeValidation, "x")))
}

func TestValidateChatRequest(t *testing.T) {
	valid := ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: "hello"}},
		Temperature: 0.7,
	}
	require.NoError(t, ValidateChatRequest(valid))

	// System-prompt-only requests are allowed.
	require.NoError(t, ValidateChatRequest(ChatRequest{SystemPrompt: "be brief"}))

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{"no messages", ChatRequest{}},
		{"bad role", ChatRequest{Messages: []Message{{Role: "robot", Content: "x"}}}},
		{"empty content", ChatRequest{Messages: []Message{{Role: RoleUser, Content: "  "}}}},
		{"temperature too high", ChatRequest{Messages: valid.Messages, Temperature: 2.5}},
		{"negative temperature", ChatRequest{Messages: valid.Messages, Temperature: -0.1}},
		{"negative max tokens", ChatRequest{Messages: valid.Messages, MaxTokens: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatRequest(tt.req)
			assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
		})
	}
}

func TestTokenLimitFor(t *testing.T) {
	// Static entries apply the safety margin.
	assert.Equal(t, 7371, TokenLimitFor("text-embedding-3-small"))
	// Prefix fallback for unknown versions.
	assert.Equal(t, 180000, TokenLimitFor("claude-99-opus"))
	// Default for unknown models.
	assert.Equal(t, 7372, TokenLimitFor("mystery-model"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 13, EstimateTokens("one two three four five six seven eight nine ten"))
}

func TestEstimateEmbeddingCost(t *testing.T) {
	texts := []string{"some words to embed here"}
	assert.Greater(t, EstimateEmbeddingCost("text-embedding-3-small", texts), 0.0)
	assert.Zero(t, EstimateEmbeddingCost("unknown-model", texts))
	assert.Zero(t, EstimateEmbeddingCost("gemini-embedding-001", texts))
}
