package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// MapProviderError converts a provider SDK error into the shared taxonomy.
// Status codes take priority; message substrings cover SDKs that surface
// throttling or auth failures without a usable status.
func MapProviderError(provider string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Wrap(apperrors.CodeProviderAuth, provider+" rejected credentials", err)
	case http.StatusNotFound:
		return apperrors.Wrap(apperrors.CodeModelNotFound, provider+" model not found", err)
	case http.StatusTooManyRequests:
		return apperrors.Wrap(apperrors.CodeRateLimit, provider+" throttled the request", err)
	case http.StatusPaymentRequired:
		return apperrors.Wrap(apperrors.CodeQuotaExceeded, provider+" quota exceeded", err)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Wrap(apperrors.CodeInvalidRequest, provider+" rejected the request", err)
	}
	if statusCode >= 500 {
		return apperrors.Wrap(apperrors.CodeNetwork, provider+" server error", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
		}
		return apperrors.Wrap(apperrors.CodeNetwork, provider+" network error", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return apperrors.Wrap(apperrors.CodeRateLimit, provider+" throttled the request", err)
	case strings.Contains(msg, "quota"), strings.Contains(msg, "billing"):
		return apperrors.Wrap(apperrors.CodeQuotaExceeded, provider+" quota exceeded", err)
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
		return apperrors.Wrap(apperrors.CodeProviderAuth, provider+" rejected credentials", err)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return apperrors.Wrap(apperrors.CodeModelNotFound, provider+" model not found", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}
	return apperrors.Wrap(apperrors.CodeNetwork, provider+" request failed", err)
}

// RetryableCodes is the error set the orchestrator advances past to the
// next provider. Invalid requests and auth failures are not retried.
var RetryableCodes = []apperrors.Code{
	apperrors.CodeRateLimit,
	apperrors.CodeQuotaExceeded,
	apperrors.CodeNetwork,
	apperrors.CodeTimeout,
	apperrors.CodeServiceUnavailable,
}

// IsFailover reports whether err should advance the orchestrator to the
// next provider in the chain.
func IsFailover(err error) bool {
	code := apperrors.CodeOf(err)
	for _, c := range RetryableCodes {
		if code == c {
			return true
		}
	}
	// Unclassified provider errors also advance; only client-side request
	// mistakes stop the chain.
	return code != apperrors.CodeInvalidRequest && code != apperrors.CodeValidation
}

// ValidateChatRequest enforces the request contract before any provider is
// consulted.
func ValidateChatRequest(req ChatRequest) error {
	if len(req.Messages) == 0 && req.SystemPrompt == "" {
		return apperrors.New(apperrors.CodeValidation, "request has no messages")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return apperrors.Newf(apperrors.CodeValidation, "message %d has invalid role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return apperrors.Newf(apperrors.CodeValidation, "message %d has empty content", i)
		}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return apperrors.Newf(apperrors.CodeValidation, "temperature %.2f out of range [0,2]", req.Temperature)
	}
	if req.MaxTokens < 0 {
		return apperrors.New(apperrors.CodeValidation, "max_tokens must be non-negative")
	}
	return nil
}
