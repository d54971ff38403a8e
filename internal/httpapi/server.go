package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/health"
	"github.com/pagesage/pagesage/internal/metrics"
	"github.com/pagesage/pagesage/internal/orchestrator"
	"github.com/pagesage/pagesage/internal/pipeline"
	"github.com/pagesage/pagesage/internal/questiongen"
	"github.com/pagesage/pagesage/internal/search"
	"github.com/pagesage/pagesage/internal/store"
)

// Server wires handlers, middleware and dependencies into an HTTP
// server.
type Server struct {
	cfg      config.HTTPConfig
	pipeline *pipeline.Pipeline
	jobs     *pipeline.Jobs
	search   *search.Service
	db       *store.Store
	llm      *orchestrator.LLMService
	embedder *orchestrator.EmbeddingService
	qgen     *questiongen.Generator
	healthh  *health.HTTPHandler
	keys     KeyValidator
	limiters *limiterSet
	logger   *zap.Logger

	httpServer *http.Server
}

// Deps carries everything the server needs.
type Deps struct {
	Config    config.HTTPConfig
	Pipeline  *pipeline.Pipeline
	Jobs      *pipeline.Jobs
	Search    *search.Service
	Store     *store.Store
	LLM       *orchestrator.LLMService
	Embedder  *orchestrator.EmbeddingService
	Generator *questiongen.Generator
	Health    *health.HTTPHandler
	Keys      KeyValidator
	Logger    *zap.Logger
}

// New builds the server and its routes.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Keys == nil {
		d.Keys = AnonymousValidator{}
	}
	s := &Server{
		cfg:      d.Config,
		pipeline: d.Pipeline,
		jobs:     d.Jobs,
		search:   d.Search,
		db:       d.Store,
		llm:      d.LLM,
		embedder: d.Embedder,
		qgen:     d.Generator,
		healthh:  d.Health,
		keys:     d.Keys,
		limiters: newLimiterSet(),
		logger:   d.Logger,
	}
	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", d.Config.Host, d.Config.Port),
		Handler:           s.recoverPanics(s.cors(s.observe(s.authenticate(mux)))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	prefix := strings.TrimSuffix(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	mux.HandleFunc("POST "+prefix+"/processing/process",
		s.rateLimit(catGeneration, s.requireScope(ScopeWrite, s.handleProcess)))
	mux.HandleFunc("POST "+prefix+"/processing/process-async",
		s.rateLimit(catGeneration, s.requireScope(ScopeWrite, s.handleProcessAsync)))
	mux.HandleFunc("GET "+prefix+"/processing/jobs/{id}",
		s.rateLimit(catRead, s.requireScope(ScopeRead, s.handleJobStatus)))

	mux.HandleFunc("GET "+prefix+"/questions/by-url",
		s.rateLimit(catRead, s.requireScope(ScopeRead, s.handleQuestionsByURL)))
	mux.HandleFunc("GET "+prefix+"/questions/{id}",
		s.rateLimit(catRead, s.requireScope(ScopeRead, s.handleQuestionByID)))
	mux.HandleFunc("POST "+prefix+"/questions/{id}/click",
		s.rateLimit(catRead, s.requireScope(ScopeRead, s.handleQuestionClick)))

	mux.HandleFunc("POST "+prefix+"/search/similar",
		s.rateLimit(catSimilarity, s.requireScope(ScopeRead, s.handleSimilar)))

	mux.HandleFunc("POST "+prefix+"/qa/answer",
		s.rateLimit(catGeneration, s.requireScope(ScopeWrite, s.handleAnswer)))
	mux.HandleFunc("POST "+prefix+"/generate/questions",
		s.rateLimit(catGeneration, s.requireScope(ScopeWrite, s.handleGenerateQuestions)))

	mux.HandleFunc("POST "+prefix+"/embeddings/generate",
		s.rateLimit(catWrite, s.requireScope(ScopeWrite, s.handleEmbed)))
	mux.HandleFunc("POST "+prefix+"/embeddings/generate-batch",
		s.rateLimit(catWrite, s.requireScope(ScopeWrite, s.handleEmbedBatch)))

	mux.HandleFunc("DELETE "+prefix+"/articles/{id}",
		s.rateLimit(catWrite, s.requireScope(ScopeAdmin, s.handleDeleteArticle)))

	if s.healthh != nil {
		s.healthh.RegisterRoutes(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records its latency metric.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		route := r.URL.Path
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(duration.Seconds())
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		)
	})
}

// recoverPanics converts a handler panic into a 500 envelope carrying a
// correlation id that also appears in the log line.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				correlationID := uuid.New().String()
				s.logger.Error("Handler panicked",
					zap.String("correlation_id", correlationID),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				s.writeError(w, r, apperrors.New(apperrors.CodeInternal,
					"internal error").WithDetail("correlation_id", correlationID))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := s.cfg.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, a := range allowed {
				if a == "*" || a == origin {
					w.Header().Set("Access-Control-Allow-Origin", a)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
