// Package orchestrator routes completion and embedding requests across a
// provider chain with circuit breaking, local rate budgets, health
// caching and failover.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/circuitbreaker"
	"github.com/pagesage/pagesage/internal/metrics"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/ratecontrol"
)

const (
	defaultCallTimeout = 30 * time.Second
	healthCacheTTL     = 5 * time.Minute
)

// modelProviderPrefixes routes a pinned model name to the provider that
// serves it. First matching prefix wins.
var modelProviderPrefixes = []struct {
	prefix   string
	provider string
}{
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"text-embedding-", "openai"},
	{"claude-", "anthropic"},
	{"gemini-", "gemini"},
}

func providerForModel(model string) string {
	for _, p := range modelProviderPrefixes {
		if strings.HasPrefix(model, p.prefix) {
			return p.provider
		}
	}
	return ""
}

type llmEntry struct {
	provider providers.LLMProvider
	breaker  *circuitbreaker.Breaker

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

// healthyCached runs ValidateConnection at most once per TTL; in between
// it trusts the cached verdict.
func (e *llmEntry) healthyCached(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.checkedAt) < healthCacheTTL {
		return e.healthy
	}
	e.healthy = e.provider.ValidateConnection(ctx) == nil
	e.checkedAt = time.Now()
	return e.healthy
}

// LLMService fans completion requests across the configured providers in
// order, failing over on retryable errors.
type LLMService struct {
	chain       []*llmEntry
	limits      *ratecontrol.Registry
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewLLMService builds the service over an ordered provider chain.
func NewLLMService(chain []providers.LLMProvider, limits *ratecontrol.Registry, logger *zap.Logger) *LLMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LLMService{limits: limits, callTimeout: defaultCallTimeout, logger: logger}
	for _, p := range chain {
		s.chain = append(s.chain, &llmEntry{
			provider: p,
			breaker:  circuitbreaker.New(p.ProviderName(), circuitbreaker.DefaultConfig(), logger),
		})
	}
	return s
}

// Providers returns the provider names in chain order.
func (s *LLMService) Providers() []string {
	out := make([]string, len(s.chain))
	for i, e := range s.chain {
		out[i] = e.provider.ProviderName()
	}
	return out
}

// BreakerStates reports each provider breaker's state, for health output.
func (s *LLMService) BreakerStates() map[string]string {
	out := make(map[string]string, len(s.chain))
	for _, e := range s.chain {
		out[e.provider.ProviderName()] = e.breaker.State().String()
	}
	return out
}

// candidates narrows the chain when the request pins a model. A pinned
// model that no configured provider serves is a model_not_found error.
func (s *LLMService) candidates(model string) ([]*llmEntry, error) {
	if model == "" {
		return s.chain, nil
	}
	want := providerForModel(model)
	if want == "" {
		return nil, apperrors.Newf(apperrors.CodeModelNotFound, "no provider serves model %q", model)
	}
	for _, e := range s.chain {
		if e.provider.ProviderName() == want {
			return []*llmEntry{e}, nil
		}
	}
	return nil, apperrors.Newf(apperrors.CodeModelNotFound, "provider %s for model %q is not configured", want, model)
}

// Generate runs the request against the first provider that accepts it.
func (s *LLMService) Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	entries, err := s.candidates(req.Model)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, e := range entries {
		name := e.provider.ProviderName()
		if err := s.limits.Allow(name); err != nil {
			s.logger.Warn("Provider over local rate budget, skipping",
				zap.String("provider", name))
			lastErr = err
			continue
		}
		if !e.healthyCached(ctx) {
			s.logger.Warn("Provider unhealthy, skipping", zap.String("provider", name))
			lastErr = apperrors.Newf(apperrors.CodeServiceUnavailable, "provider %s unhealthy", name)
			continue
		}

		var resp *providers.ChatResponse
		start := time.Now()
		err := e.breaker.Execute(ctx, func() error {
			return circuitbreaker.WithTimeout(ctx, s.callTimeout, func(tctx context.Context) error {
				var genErr error
				resp, genErr = e.provider.Generate(tctx, req)
				return genErr
			})
		})
		metrics.LLMRequestDuration.WithLabelValues(name, outcome(err)).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.LLMTokensTotal.WithLabelValues(name).Add(float64(resp.Usage.TotalTokens))
			return resp, nil
		}
		lastErr = err
		if !providers.IsFailover(err) {
			return nil, err
		}
		s.logger.Warn("Provider failed, advancing chain",
			zap.String("provider", name),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err),
		)
	}
	return nil, apperrors.Wrap(apperrors.CodeAllProvidersFailed, "no provider completed the request", lastErr)
}

// Stream opens a streaming completion on the first provider that accepts
// the request. The breaker observes stream establishment, not delivery.
func (s *LLMService) Stream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	if err := providers.ValidateChatRequest(req); err != nil {
		return nil, err
	}
	entries, err := s.candidates(req.Model)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, e := range entries {
		name := e.provider.ProviderName()
		if err := s.limits.Allow(name); err != nil {
			lastErr = err
			continue
		}
		if !e.healthyCached(ctx) {
			lastErr = apperrors.Newf(apperrors.CodeServiceUnavailable, "provider %s unhealthy", name)
			continue
		}
		var ch <-chan providers.StreamChunk
		err := e.breaker.Execute(ctx, func() error {
			var openErr error
			ch, openErr = e.provider.Stream(ctx, req)
			return openErr
		})
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !providers.IsFailover(err) {
			return nil, err
		}
	}
	return nil, apperrors.Wrap(apperrors.CodeAllProvidersFailed, "no provider opened a stream", lastErr)
}

// AvailableModels aggregates model lists across healthy providers.
func (s *LLMService) AvailableModels(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, e := range s.chain {
		if !e.healthyCached(ctx) {
			continue
		}
		models, err := e.provider.AvailableModels(ctx)
		if err != nil {
			s.logger.Warn("Model listing failed",
				zap.String("provider", e.provider.ProviderName()), zap.Error(err))
			continue
		}
		out[e.provider.ProviderName()] = models
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.CodeAllProvidersFailed, "no provider reported models")
	}
	return out, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
