package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/circuitbreaker"
	"github.com/pagesage/pagesage/internal/metrics"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/ratecontrol"
	"github.com/pagesage/pagesage/internal/similarity"
	"github.com/pagesage/pagesage/internal/textproc"
)

// Embedding is one produced vector with its provenance. Vectors from the
// local fallback embedder carry its model tag and must never be indexed
// alongside vectors from a hosted model.
type Embedding struct {
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Fallback  bool      `json:"fallback,omitempty"`
}

type embedEntry struct {
	provider providers.EmbeddingProvider
	breaker  *circuitbreaker.Breaker

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

// healthyCached runs Healthcheck at most once per TTL; in between it
// trusts the cached verdict.
func (e *embedEntry) healthyCached(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.checkedAt) < healthCacheTTL {
		return e.healthy
	}
	e.healthy = e.provider.Healthcheck(ctx) == nil
	e.checkedAt = time.Now()
	return e.healthy
}

// EmbeddingService fans embedding requests across hosted providers. A
// deterministic local fallback may serve deployments with no hosted
// provider at all; it is never mixed into a hosted chain, so one index
// never holds vectors from incompatible spaces. Inputs over the model's
// token budget are chunked, embedded per chunk, mean-pooled and
// re-normalized.
type EmbeddingService struct {
	chain       []*embedEntry
	fallback    providers.EmbeddingProvider
	limits      *ratecontrol.Registry
	chunker     *textproc.Chunker
	callTimeout time.Duration
	normalize   bool
	logger      *zap.Logger
}

// NewEmbeddingService builds the service. fallback is honored only when
// the hosted chain is empty; alongside hosted providers it is dropped,
// because its vectors are incompatible with hosted embedding spaces.
func NewEmbeddingService(chain []providers.EmbeddingProvider, fallback providers.EmbeddingProvider, limits *ratecontrol.Registry, logger *zap.Logger) *EmbeddingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback != nil && len(chain) > 0 {
		logger.Warn("Hosted embedding providers configured, dropping local fallback",
			zap.Int("providers", len(chain)))
		fallback = nil
	}
	s := &EmbeddingService{
		fallback:    fallback,
		limits:      limits,
		chunker:     textproc.NewChunker(textproc.DefaultChunkingConfig()),
		callTimeout: defaultCallTimeout,
		normalize:   true,
		logger:      logger,
	}
	for _, p := range chain {
		s.chain = append(s.chain, &embedEntry{
			provider: p,
			breaker:  circuitbreaker.New(p.Name()+"-embed", circuitbreaker.DefaultConfig(), logger),
		})
	}
	return s
}

// PrimaryModel returns the model tag of the first configured provider,
// or the fallback's tag when no hosted provider exists.
func (s *EmbeddingService) PrimaryModel() string {
	if len(s.chain) > 0 {
		return s.chain[0].provider.Model()
	}
	if s.fallback != nil {
		return s.fallback.Model()
	}
	return ""
}

// Embed produces one vector for the text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) (*Embedding, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// EmbedBatch produces one vector per text. All vectors in a result come
// from the same provider and model.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "no texts to embed")
	}
	for i, t := range texts {
		if t == "" {
			return nil, apperrors.Newf(apperrors.CodeValidation, "text %d is empty", i)
		}
	}

	var lastErr error
	for _, e := range s.chain {
		name := e.provider.Name()
		if err := s.limits.Allow(name); err != nil {
			lastErr = err
			continue
		}
		if !e.healthyCached(ctx) {
			s.logger.Warn("Embedding provider unhealthy, skipping", zap.String("provider", name))
			lastErr = apperrors.Newf(apperrors.CodeServiceUnavailable, "provider %s unhealthy", name)
			continue
		}
		vectors, err := s.embedWith(ctx, e, texts)
		if err == nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(name, "ok").Inc()
			return s.results(e.provider, vectors, false), nil
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(name, "error").Inc()
		lastErr = err
		if !providers.IsFailover(err) {
			return nil, err
		}
		s.logger.Warn("Embedding provider failed, advancing chain",
			zap.String("provider", name),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err),
		)
	}

	if s.fallback != nil {
		vectors, err := s.fallback.GenerateBatch(ctx, texts)
		if err == nil {
			metrics.EmbeddingFallbacksTotal.Inc()
			s.logger.Warn("Serving embeddings from local fallback",
				zap.Int("texts", len(texts)),
				zap.String("cause", errString(lastErr)),
			)
			return s.results(s.fallback, vectors, true), nil
		}
		lastErr = err
	}
	return nil, apperrors.Wrap(apperrors.CodeAllProvidersFailed, "no provider produced embeddings", lastErr)
}

func (s *EmbeddingService) results(p providers.EmbeddingProvider, vectors [][]float32, fallback bool) []Embedding {
	out := make([]Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = Embedding{
			Vector:    v,
			Provider:  p.Name(),
			Model:     p.Model(),
			Dimension: p.Dimension(),
			Fallback:  fallback,
		}
	}
	return out
}

// embedWith runs one provider over the texts, chunking any text that
// exceeds the model's token budget and pooling its chunk vectors.
func (s *EmbeddingService) embedWith(ctx context.Context, e *embedEntry, texts []string) ([][]float32, error) {
	budget := providers.TokenLimitFor(e.provider.Model())

	direct := make([]string, 0, len(texts))
	directIdx := make([]int, 0, len(texts))
	type pooled struct {
		index  int
		chunks []string
	}
	var oversized []pooled
	for i, t := range texts {
		if providers.EstimateTokens(t) <= budget {
			direct = append(direct, t)
			directIdx = append(directIdx, i)
			continue
		}
		chunks, err := s.chunker.Chunk(t)
		if err != nil {
			return nil, err
		}
		oversized = append(oversized, pooled{index: i, chunks: chunks})
	}

	out := make([][]float32, len(texts))
	if len(direct) > 0 {
		vectors, err := s.callProvider(ctx, e, direct)
		if err != nil {
			return nil, err
		}
		for j, v := range vectors {
			out[directIdx[j]] = v
		}
	}
	for _, p := range oversized {
		vectors, err := s.callProvider(ctx, e, p.chunks)
		if err != nil {
			return nil, err
		}
		mean, err := similarity.MeanPool(vectors)
		if err != nil {
			return nil, err
		}
		if s.normalize {
			similarity.Normalize(mean)
		}
		out[p.index] = mean
		s.logger.Debug("Pooled oversized input",
			zap.Int("chunks", len(p.chunks)),
			zap.String("model", e.provider.Model()),
		)
	}
	return out, nil
}

func (s *EmbeddingService) callProvider(ctx context.Context, e *embedEntry, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := e.breaker.Execute(ctx, func() error {
		return circuitbreaker.WithTimeout(ctx, s.callTimeout, func(tctx context.Context) error {
			var genErr error
			vectors, genErr = e.provider.GenerateBatch(tctx, texts)
			return genErr
		})
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// EstimateCost sums the primary provider's cost estimate for the texts.
func (s *EmbeddingService) EstimateCost(texts []string) float64 {
	if len(s.chain) == 0 {
		return 0
	}
	return s.chain[0].provider.EstimateCost(texts)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
