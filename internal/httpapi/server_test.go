package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/cache"
	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/crawler"
	"github.com/pagesage/pagesage/internal/orchestrator"
	"github.com/pagesage/pagesage/internal/pipeline"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/providers/hash"
	"github.com/pagesage/pagesage/internal/questiongen"
	"github.com/pagesage/pagesage/internal/ratecontrol"
	"github.com/pagesage/pagesage/internal/search"
	"github.com/pagesage/pagesage/internal/store"
	"github.com/pagesage/pagesage/internal/vectorstore"
)

// --- pipeline collaborators ---

type stubFetcher struct {
	panicMsg string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*crawler.Page, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return &crawler.Page{
		ID:       crawler.ArticleID(url),
		URL:      url,
		Domain:   crawler.Domain(url),
		Title:    "A Title",
		Content:  "Body with enough substance for artifact generation.",
		Language: "en",
	}, nil
}

type stubGenerator struct{}

func (stubGenerator) Summarize(ctx context.Context, title, content string, opts questiongen.Options) (*questiongen.SummaryResult, error) {
	return &questiongen.SummaryResult{
		Summary:   "This article explains the race detector. It also covers ThreadSanitizer internals.",
		KeyPoints: []string{"Explains the race detector.", "Covers ThreadSanitizer internals.", "Shows a worked example."},
		Provider:  "openai", Model: "gpt-4o-mini",
	}, nil
}

func (stubGenerator) GenerateQuestions(ctx context.Context, title, content string, opts questiongen.Options) (*questiongen.Result, error) {
	return &questiongen.Result{
		Questions: []questiongen.Question{
			{Question: "Q1?", Answer: "A1.", KeywordAnchor: "race", Confidence: 0.9},
		},
		Provider: "openai", Model: "gpt-4o-mini",
	}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]orchestrator.Embedding, error) {
	out := make([]orchestrator.Embedding, len(texts))
	for i := range texts {
		out[i] = orchestrator.Embedding{Vector: []float32{1, 0}, Provider: "openai", Model: "text-embedding-3-small", Dimension: 2}
	}
	return out, nil
}

func (stubEmbedder) EstimateCost([]string) float64 { return 0 }

type stubPersistence struct {
	articles  map[string]*store.Article
	byURL     map[string]*store.Article
	summaries map[string]*store.Summary
	pairs     map[string][]store.QAPair
}

func newStubPersistence() *stubPersistence {
	return &stubPersistence{
		articles:  make(map[string]*store.Article),
		byURL:     make(map[string]*store.Article),
		summaries: make(map[string]*store.Summary),
		pairs:     make(map[string][]store.QAPair),
	}
}

func (p *stubPersistence) SaveArticle(ctx context.Context, a *store.Article) error {
	p.articles[a.ID] = a
	p.byURL[a.URL] = a
	return nil
}

func (p *stubPersistence) GetArticle(ctx context.Context, id string) (*store.Article, error) {
	if a, ok := p.articles[id]; ok {
		return a, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "article not found")
}

func (p *stubPersistence) GetArticleByURL(ctx context.Context, url string) (*store.Article, error) {
	if a, ok := p.byURL[url]; ok {
		return a, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "article not found")
}

func (p *stubPersistence) DeleteArticle(ctx context.Context, id string) error {
	a, ok := p.articles[id]
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "article not found")
	}
	delete(p.articles, id)
	delete(p.byURL, a.URL)
	return nil
}

func (p *stubPersistence) GetSummary(ctx context.Context, articleID string) (*store.Summary, error) {
	if s, ok := p.summaries[articleID]; ok {
		return s, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "summary not found")
}

func (p *stubPersistence) GetQAPairs(ctx context.Context, articleID string) ([]store.QAPair, error) {
	return p.pairs[articleID], nil
}

func (p *stubPersistence) SaveSummary(ctx context.Context, sum *store.Summary) error {
	p.summaries[sum.ArticleID] = sum
	return nil
}

func (p *stubPersistence) ReplaceQAPairs(ctx context.Context, articleID string, pairs []store.QAPair) error {
	p.pairs[articleID] = pairs
	return nil
}

// --- search collaborator ---

type stubReads struct {
	byURL  map[string]*store.Article
	byID   map[string]*store.Article
	pairID map[string]*store.QAPair
	pairs  map[string][]store.QAPair
	clicks map[string]int64
}

func newStubReads() *stubReads {
	return &stubReads{
		byURL:  make(map[string]*store.Article),
		byID:   make(map[string]*store.Article),
		pairID: make(map[string]*store.QAPair),
		pairs:  make(map[string][]store.QAPair),
		clicks: make(map[string]int64),
	}
}

func (r *stubReads) GetArticleByURL(ctx context.Context, url string) (*store.Article, error) {
	if a, ok := r.byURL[url]; ok {
		return a, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "article not found")
}

func (r *stubReads) GetArticle(ctx context.Context, id string) (*store.Article, error) {
	if a, ok := r.byID[id]; ok {
		return a, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "article not found")
}

func (r *stubReads) GetQAPairs(ctx context.Context, articleID string) ([]store.QAPair, error) {
	return r.pairs[articleID], nil
}

func (r *stubReads) GetQAPair(ctx context.Context, id string) (*store.QAPair, error) {
	if p, ok := r.pairID[id]; ok {
		return p, nil
	}
	return nil, apperrors.New(apperrors.CodeNotFound, "question not found")
}

func (r *stubReads) RecordClick(ctx context.Context, questionID string) (int64, error) {
	if _, ok := r.pairID[questionID]; !ok {
		return 0, apperrors.New(apperrors.CodeNotFound, "question not found")
	}
	r.clicks[questionID]++
	return r.clicks[questionID], nil
}

// --- llm collaborator ---

type stubLLM struct {
	content string
}

func (s *stubLLM) ProviderName() string { return "openai" }
func (s *stubLLM) DefaultModel() string { return "gpt-4o-mini" }
func (s *stubLLM) AvailableModels(context.Context) ([]string, error) {
	return []string{"gpt-4o-mini"}, nil
}
func (s *stubLLM) Generate(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: s.content, Provider: "openai", Model: "gpt-4o-mini"}, nil
}
func (s *stubLLM) Stream(context.Context, providers.ChatRequest) (<-chan providers.StreamChunk, error) {
	ch := make(chan providers.StreamChunk)
	close(ch)
	return ch, nil
}
func (s *stubLLM) ValidateConnection(context.Context) error { return nil }

// --- auth collaborator ---

type stubKeys struct{}

func (stubKeys) Validate(_ context.Context, key string) (*KeyInfo, error) {
	switch key {
	case "":
		return &KeyInfo{KeyID: "anonymous", Scopes: []string{ScopeRead, ScopeWrite}}, nil
	case "reader":
		return &KeyInfo{KeyID: "reader", Scopes: []string{ScopeRead}}, nil
	case "root":
		return &KeyInfo{KeyID: "root", Scopes: []string{ScopeAdmin}}, nil
	case "tight":
		return &KeyInfo{KeyID: "tight", Scopes: []string{ScopeRead, ScopeWrite}, RateLimitPerMinute: 1}, nil
	default:
		return nil, errors.New("unknown key")
	}
}

type testEnv struct {
	server  *Server
	jobs    *pipeline.Jobs
	pipeDB  *stubPersistence
	reads   *stubReads
	vectors vectorstore.Store
	mock    sqlmock.Sqlmock
	fetcher *stubFetcher
	llm     *stubLLM
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	noCache := cache.New(cache.Config{Enabled: false}, zap.NewNop())
	vectors := vectorstore.NewMemory(zap.NewNop())
	pipeDB := newStubPersistence()
	fetcher := &stubFetcher{}
	pipe := pipeline.New(fetcher, stubGenerator{}, stubEmbedder{}, pipeDB, vectors, noCache, zap.NewNop())
	jobs := pipeline.NewJobs(pipe, zap.NewNop())

	reads := newStubReads()
	searchSvc := search.New(reads, vectors, noCache, nil, zap.NewNop())

	limits := ratecontrol.NewRegistry(zap.NewNop())
	llmStub := &stubLLM{content: `{"questions":[{"question":"Q?","answer":"A.","confidence":0.8}]}`}
	llmSvc := orchestrator.NewLLMService([]providers.LLMProvider{llmStub}, limits, zap.NewNop())
	embedSvc := orchestrator.NewEmbeddingService(nil, hash.New(8, true), limits, zap.NewNop())
	qgen := questiongen.New(llmStub, zap.NewNop())

	srv := New(Deps{
		Config:    config.HTTPConfig{CORSOrigins: []string{"*"}},
		Pipeline:  pipe,
		Jobs:      jobs,
		Search:    searchSvc,
		Store:     store.NewWithDB(sqlx.NewDb(db, "postgres"), zap.NewNop()),
		LLM:       llmSvc,
		Embedder:  embedSvc,
		Generator: qgen,
		Keys:      stubKeys{},
		Logger:    zap.NewNop(),
	})
	return &testEnv{
		server: srv, jobs: jobs, pipeDB: pipeDB, reads: reads,
		vectors: vectors, mock: mock, fetcher: fetcher, llm: llmStub,
	}
}

func (e *testEnv) do(method, path, apiKey, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestProcessRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do("POST", "/api/v1/processing/process", "", `{"url":"https://blog.example.com/post"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		BlogURL string `json:"blog_url"`
		BlogID  string `json:"blog_id"`
		Status  string `json:"status"`
		Summary *struct {
			Summary   string   `json:"summary"`
			KeyPoints []string `json:"key_points"`
		} `json:"summary"`
		Questions []map[string]interface{} `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "https://blog.example.com/post", out.BlogURL)
	assert.Equal(t, "success", out.Status)
	require.NotNil(t, out.Summary)
	assert.NotEmpty(t, out.Summary.KeyPoints)
	assert.Len(t, out.Questions, 1)
	assert.Len(t, e.pipeDB.articles, 1)
}

func TestWireResultFailedRun(t *testing.T) {
	res := &pipeline.Result{
		URL: "https://blog.example.com/post", ArticleID: "art1",
		Status:   pipeline.StatusFailed,
		Summary:  "The summary landed before question generation died.",
		Warnings: []string{"question generation failed: all providers failed"},
	}
	out := wireResult(res)
	assert.Equal(t, "failed", out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, "qa_generation_failed", out.Error.Code)
	assert.Contains(t, out.Error.Message, "question generation failed")
	assert.Empty(t, out.Questions)
}

func TestProcessValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do("POST", "/api/v1/processing/process", "", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "validation_error", env.ErrorCode)
	assert.Equal(t, "/api/v1/processing/process", env.Path)
	assert.False(t, env.Timestamp.IsZero())

	rec = e.do("POST", "/api/v1/processing/process", "", `{"url":"https://x.example/a","num_questions":50}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown fields are rejected rather than silently dropped.
	rec = e.do("POST", "/api/v1/processing/process", "", `{"url":"https://x.example/a","bogus":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthFailure(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do("GET", "/api/v1/questions/by-url?blog_url=https://x.example/a", "wrong-key", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_failed", decodeEnvelope(t, rec).ErrorCode)
}

func TestScopeDenied(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do("POST", "/api/v1/processing/process", "reader", `{"url":"https://x.example/a"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "permission_denied", decodeEnvelope(t, rec).ErrorCode)
}

func TestAdminScope(t *testing.T) {
	e := newTestEnv(t)

	// write scope is not enough for deletes.
	rec := e.do("DELETE", "/api/v1/articles/ghost", "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Admin passes the scope gate; the missing article then 404s.
	rec = e.do("DELETE", "/api/v1/articles/ghost", "root", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeEnvelope(t, rec).ErrorCode)
}

func TestRateLimitPerKey(t *testing.T) {
	e := newTestEnv(t)
	// The tight key allows a single generation call per minute.
	rec := e.do("POST", "/api/v1/processing/process", "tight", `{"url":"https://x.example/a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do("POST", "/api/v1/processing/process", "tight", `{"url":"https://x.example/b"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "rate_limited", env.ErrorCode)
	assert.Greater(t, env.RetryAfter, 0)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitPerCategory(t *testing.T) {
	e := newTestEnv(t)
	// Generation allows 10 per minute per identity; the 11th is rejected
	// even when every request fails validation.
	for i := 0; i < 10; i++ {
		rec := e.do("POST", "/api/v1/qa/answer", "", `{}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := e.do("POST", "/api/v1/qa/answer", "", `{}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestQuestionsByURLEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.reads.byURL["https://blog.example.com/a"] = &store.Article{
		ID: "artA", URL: "https://blog.example.com/a", Domain: "blog.example.com", Title: "Article A",
	}
	e.reads.pairs["artA"] = []store.QAPair{
		{ID: "q1", ArticleID: "artA", Question: "Q1?", Answer: "A1.", Confidence: 0.9},
		{ID: "q2", ArticleID: "artA", Question: "Q2?", Answer: "A2.", Confidence: 0.8},
	}

	rec := e.do("GET", "/api/v1/questions/by-url?blog_url=https://blog.example.com/a&limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		ArticleID string                   `json:"article_id"`
		Questions []map[string]interface{} `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "artA", out.ArticleID)
	assert.Len(t, out.Questions, 1)

	rec = e.do("GET", "/api/v1/questions/by-url", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do("GET", "/api/v1/questions/by-url?blog_url=https://blog.example.com/a&limit=500", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuestionClickEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.reads.pairID["q1"] = &store.QAPair{ID: "q1", ArticleID: "artA", Question: "Q?", Answer: "A."}

	rec := e.do("POST", "/api/v1/questions/q1/click", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		QuestionID string `json:"question_id"`
		ClickCount int64  `json:"click_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "q1", out.QuestionID)
	assert.Equal(t, int64(1), out.ClickCount)
}

func TestQuestionByIDEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rows := sqlmock.NewRows([]string{"id", "article_id", "question", "answer", "confidence", "model", "position", "click_count"}).
		AddRow("q1", "artA", "Q?", "A.", 0.9, "m", 0, 4)
	e.mock.ExpectQuery(`SELECT \* FROM qa_pairs WHERE id`).
		WithArgs("q1").
		WillReturnRows(rows)

	rec := e.do("GET", "/api/v1/questions/q1", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out qaProjection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Q?", out.Question)
	assert.Equal(t, int64(4), out.ClickCount)
}

func TestSimilarEndpoint(t *testing.T) {
	e := newTestEnv(t)

	// Source row comes from the relational store.
	rows := sqlmock.NewRows([]string{"id", "article_id", "question", "answer", "confidence", "embedding"}).
		AddRow("a1", "artA", "Source question?", "Answer.", 0.9, "{1,0}")
	e.mock.ExpectQuery(`SELECT \* FROM qa_pairs WHERE id`).
		WithArgs("a1").
		WillReturnRows(rows)

	// The search side resolves hits through its own reads.
	e.reads.pairID["a1"] = &store.QAPair{
		ID: "a1", ArticleID: "artA", Question: "Source question?", Answer: "Answer.",
		Embedding: store.Vector([]float32{1, 0}),
	}
	e.reads.byID["artB"] = &store.Article{
		ID: "artB", URL: "https://docs.example.com/b", Domain: "docs.example.com", Title: "Article B",
	}
	_, err := e.vectors.Add(context.Background(), vectorstore.Document{
		ID: "summary:artB", Content: "Summary of Article B.", Embedding: []float32{0.9, 0.1},
		Metadata: vectorstore.Metadata{
			ArticleID: "artB", URL: "https://docs.example.com/b", Domain: "docs.example.com",
			Kind: vectorstore.KindSummary, Title: "Article B",
		},
	})
	require.NoError(t, err)

	rec := e.do("POST", "/api/v1/search/similar", "", `{"question_id":"a1","limit":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		QuestionID   string `json:"question_id"`
		QuestionText string `json:"question_text"`
		SimilarBlogs []struct {
			ArticleID string  `json:"article_id"`
			URL       string  `json:"url"`
			Snippet   string  `json:"summary_snippet"`
			Score     float64 `json:"similarity_score"`
		} `json:"similar_blogs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Source question?", out.QuestionText)
	require.Len(t, out.SimilarBlogs, 1)
	assert.Equal(t, "artB", out.SimilarBlogs[0].ArticleID)
	assert.Equal(t, "Summary of Article B.", out.SimilarBlogs[0].Snippet)
	assert.Greater(t, out.SimilarBlogs[0].Score, 0.9)
}

func TestSimilarValidation(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do("POST", "/api/v1/search/similar", "", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do("POST", "/api/v1/search/similar", "", `{"question_id":"a1","limit":99}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswerEndpointCapsWords(t *testing.T) {
	e := newTestEnv(t)
	e.llm.content = strings.TrimSpace(strings.Repeat("word ", 50))

	rec := e.do("POST", "/api/v1/qa/answer", "", `{"question":"What is it?","max_words":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Answer    string `json:"answer"`
		WordCount int    `json:"word_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 10, out.WordCount)
	assert.Len(t, strings.Fields(out.Answer), 10)
}

func TestGenerateQuestionsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do("POST", "/api/v1/generate/questions", "", `{"content":"Some long enough article content to question.","difficulty":"easy"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Questions []map[string]interface{} `json:"questions"`
		Degraded  bool                     `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Questions, 1)
	assert.Equal(t, "easy", out.Questions[0]["difficulty"])
	assert.False(t, out.Degraded)

	rec = e.do("POST", "/api/v1/generate/questions", "", `{"content":"x content","difficulty":"impossible"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do("POST", "/api/v1/embeddings/generate", "", `{"text":"embed me"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var single struct {
		Embedding  []float32 `json:"embedding"`
		Dimensions int       `json:"dimensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Len(t, single.Embedding, 8)
	assert.Equal(t, 8, single.Dimensions)

	rec = e.do("POST", "/api/v1/embeddings/generate-batch", "", `{"texts":["a","b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch struct {
		Embeddings [][]float32 `json:"embeddings"`
		TotalTexts int         `json:"total_texts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.TotalTexts)
	require.Len(t, batch.Embeddings, 2)

	rec = e.do("POST", "/api/v1/embeddings/generate-batch", "", `{"texts":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncProcessing(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do("POST", "/api/v1/processing/process-async", "", `{"url":"https://blog.example.com/post"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.JobID)

	e.jobs.Wait()

	rec = e.do("GET", "/api/v1/processing/jobs/"+submitted.JobID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job pipeline.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, pipeline.JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "https://blog.example.com/post", job.Result.URL)

	rec = e.do("GET", "/api/v1/processing/jobs/ghost", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanicRecovery(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.panicMsg = "boom"

	rec := e.do("POST", "/api/v1/processing/process", "", `{"url":"https://blog.example.com/post"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "internal_error", env.ErrorCode)
	assert.NotEmpty(t, env.Details["correlation_id"])
}

func TestMetricsBypassesAuth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do("GET", "/metrics", "bogus-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/processing/process", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
