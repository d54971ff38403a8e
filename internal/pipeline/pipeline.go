// Package pipeline runs the article ingestion flow: fetch, persist,
// generate summary and questions concurrently, embed the artifacts and
// index them for search. Failures past the fetch stage degrade to a
// partial result instead of aborting the whole run.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/cache"
	"github.com/pagesage/pagesage/internal/crawler"
	"github.com/pagesage/pagesage/internal/metrics"
	"github.com/pagesage/pagesage/internal/orchestrator"
	"github.com/pagesage/pagesage/internal/questiongen"
	"github.com/pagesage/pagesage/internal/store"
	"github.com/pagesage/pagesage/internal/vectorstore"
)

// Status values for a processing result. A run that produced no
// questions at all is failed even when the summary landed.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusCached    = "cached"
	StatusFailed    = "failed"
)

// Fetcher downloads and extracts an article.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*crawler.Page, error)
}

// ArtifactGenerator produces summaries and questions.
type ArtifactGenerator interface {
	Summarize(ctx context.Context, title, content string, opts questiongen.Options) (*questiongen.SummaryResult, error)
	GenerateQuestions(ctx context.Context, title, content string, opts questiongen.Options) (*questiongen.Result, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]orchestrator.Embedding, error)
	EstimateCost(texts []string) float64
}

// Persistence is the slice of the relational store the pipeline touches.
type Persistence interface {
	SaveArticle(ctx context.Context, a *store.Article) error
	GetArticle(ctx context.Context, id string) (*store.Article, error)
	GetArticleByURL(ctx context.Context, url string) (*store.Article, error)
	DeleteArticle(ctx context.Context, id string) error
	GetSummary(ctx context.Context, articleID string) (*store.Summary, error)
	GetQAPairs(ctx context.Context, articleID string) ([]store.QAPair, error)
	SaveSummary(ctx context.Context, sum *store.Summary) error
	ReplaceQAPairs(ctx context.Context, articleID string, pairs []store.QAPair) error
}

// Options tunes one processing run.
type Options struct {
	QuestionCount int
	Model         string
	Instructions  string
	// Force reprocesses an article that already has artifacts.
	Force bool
}

// Result is the wire-format outcome of one run.
type Result struct {
	ArticleID      string           `json:"article_id"`
	URL            string           `json:"url"`
	Domain         string           `json:"domain"`
	Title          string           `json:"title"`
	Status         string           `json:"status"`
	Summary        string           `json:"summary,omitempty"`
	KeyPoints      []string         `json:"key_points,omitempty"`
	Questions      []store.QAPair   `json:"questions,omitempty"`
	EmbeddingModel string           `json:"embedding_model,omitempty"`
	Degraded       bool             `json:"degraded,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	EstimatedCost  float64          `json:"estimated_cost_usd,omitempty"`
	Duration       time.Duration    `json:"-"`
	DurationMS     int64            `json:"duration_ms"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	fetcher   Fetcher
	generator ArtifactGenerator
	embedder  Embedder
	db        Persistence
	vectors   vectorstore.Store
	cache     *cache.Cache
	logger    *zap.Logger
}

// New creates a pipeline.
func New(fetcher Fetcher, generator ArtifactGenerator, embedder Embedder, db Persistence, vectors vectorstore.Store, c *cache.Cache, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   fetcher,
		generator: generator,
		embedder:  embedder,
		db:        db,
		vectors:   vectors,
		cache:     c,
		logger:    logger,
	}
}

// Process runs the full flow for one URL.
func (p *Pipeline) Process(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	start := time.Now()

	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	// Idempotency: an already-processed URL returns its stored artifacts
	// unless the caller forces a refresh.
	if !opts.Force {
		if cached := p.existingResult(ctx, normalized); cached != nil {
			metrics.ArticlesProcessedTotal.WithLabelValues(StatusCached).Inc()
			return cached, nil
		}
	}

	page, err := p.fetcher.Fetch(ctx, normalized)
	if err != nil {
		return nil, err
	}

	// The article row is persisted before any artifact work so a later
	// failure still leaves a reprocessable record.
	article := &store.Article{
		ID:       page.ID,
		URL:      page.URL,
		Domain:   page.Domain,
		Title:    page.Title,
		Content:  page.Content,
		Language: page.Language,
	}
	if err := p.db.SaveArticle(ctx, article); err != nil {
		return nil, err
	}

	res := &Result{
		ArticleID: page.ID,
		URL:       page.URL,
		Domain:    page.Domain,
		Title:     page.Title,
		Status:    StatusCompleted,
	}

	genOpts := questiongen.Options{
		Count:        opts.QuestionCount,
		Model:        opts.Model,
		Instructions: opts.Instructions,
	}

	var summary *questiongen.SummaryResult
	var questions *questiongen.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var sumErr error
		summary, sumErr = p.generator.Summarize(gctx, page.Title, page.Content, genOpts)
		return sumErr
	})
	g.Go(func() error {
		var qErr error
		questions, qErr = p.generator.GenerateQuestions(gctx, page.Title, page.Content, genOpts)
		return qErr
	})
	if err := g.Wait(); err != nil {
		// One artifact may still have landed; keep it and degrade.
		if summary == nil && questions == nil {
			return nil, err
		}
		res.Status = StatusPartial
		res.Warnings = append(res.Warnings, err.Error())
	}

	// The two embedding legs are independent; run them concurrently and
	// merge their outcomes afterwards so one failing leg never loses the
	// other's artifacts.
	var (
		sumOut, qaOut       indexOutcome
		sumIdxErr, qaIdxErr error
		g2                  errgroup.Group
	)
	if summary != nil {
		res.Summary = summary.Summary
		res.KeyPoints = summary.KeyPoints
		g2.Go(func() error {
			sumOut, sumIdxErr = p.indexSummary(ctx, page, summary)
			return nil
		})
	}
	if questions != nil {
		res.Degraded = questions.Degraded
		g2.Go(func() error {
			qaOut, qaIdxErr = p.indexQuestions(ctx, page, questions)
			return nil
		})
	}
	_ = g2.Wait()

	if sumIdxErr != nil {
		res.Status = StatusPartial
		res.Warnings = append(res.Warnings, sumIdxErr.Error())
	} else if summary != nil {
		res.EmbeddingModel = sumOut.model
		res.EstimatedCost += sumOut.cost
	}
	if qaIdxErr != nil {
		res.Status = StatusPartial
		res.Warnings = append(res.Warnings, qaIdxErr.Error())
	} else if questions != nil {
		res.Questions = qaOut.pairs
		res.EstimatedCost += qaOut.cost
		if res.EmbeddingModel == "" {
			res.EmbeddingModel = qaOut.model
		}
	}

	// No questions at all means the article cannot serve its primary
	// purpose; the stored summary stays for a later retry.
	if len(res.Questions) == 0 {
		res.Status = StatusFailed
	}

	p.invalidate(ctx, page)

	res.Duration = time.Since(start)
	res.DurationMS = res.Duration.Milliseconds()
	metrics.ArticlesProcessedTotal.WithLabelValues(res.Status).Inc()
	metrics.PipelineDuration.Observe(res.Duration.Seconds())
	if res.EstimatedCost > 0 {
		metrics.PipelineEstimatedCostUSD.Observe(res.EstimatedCost)
	}
	p.logger.Info("Processed article",
		zap.String("article_id", res.ArticleID),
		zap.String("status", res.Status),
		zap.Int("questions", len(res.Questions)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// existingResult returns a cached-status result when the URL already has
// stored artifacts.
func (p *Pipeline) existingResult(ctx context.Context, normalized string) *Result {
	article, err := p.db.GetArticleByURL(ctx, normalized)
	if err != nil {
		return nil
	}
	summary, sumErr := p.db.GetSummary(ctx, article.ID)
	pairs, qErr := p.db.GetQAPairs(ctx, article.ID)
	if sumErr != nil && (qErr != nil || len(pairs) == 0) {
		// Article row without artifacts: an earlier run failed mid-way,
		// reprocess.
		return nil
	}
	res := &Result{
		ArticleID: article.ID,
		URL:       article.URL,
		Domain:    article.Domain,
		Title:     article.Title,
		Status:    StatusCached,
		Questions: pairs,
	}
	if summary != nil {
		res.Summary = summary.Summary
		res.KeyPoints = summary.KeyPoints
	}
	return res
}

// indexOutcome carries one embedding leg's contribution to the result.
type indexOutcome struct {
	model string
	cost  float64
	pairs []store.QAPair
}

// guardFallback rejects locally generated vectors when the index already
// holds vectors from another model; the two embedding spaces are not
// comparable and must never share an index.
func (p *Pipeline) guardFallback(ctx context.Context, emb orchestrator.Embedding) error {
	if !emb.Fallback {
		return nil
	}
	total, err := p.vectors.Count(ctx, nil)
	if err != nil {
		return err
	}
	same, err := p.vectors.Count(ctx, vectorstore.Filter{"model": emb.Model})
	if err != nil {
		return err
	}
	if total > same {
		return apperrors.Newf(apperrors.CodeDimensionMismatch,
			"fallback vectors (model %s) cannot join an index holding hosted vectors", emb.Model)
	}
	return nil
}

func (p *Pipeline) indexSummary(ctx context.Context, page *crawler.Page, summary *questiongen.SummaryResult) (indexOutcome, error) {
	embeddings, err := p.embedder.EmbedBatch(ctx, []string{summary.Summary})
	if err != nil {
		return indexOutcome{}, err
	}
	emb := embeddings[0]
	out := indexOutcome{
		model: emb.Model,
		cost:  p.embedder.EstimateCost([]string{summary.Summary}),
	}
	if err := p.guardFallback(ctx, emb); err != nil {
		return indexOutcome{}, err
	}

	if err := p.db.SaveSummary(ctx, &store.Summary{
		ArticleID: page.ID,
		Summary:   summary.Summary,
		KeyPoints: summary.KeyPoints,
		Model:     summary.Model,
		Embedding: store.Vector(emb.Vector),
	}); err != nil {
		return indexOutcome{}, err
	}

	_, err = p.vectors.Add(ctx, vectorstore.Document{
		ID:        "summary:" + page.ID,
		Content:   summary.Summary,
		Embedding: emb.Vector,
		Metadata:  p.metadata(page, vectorstore.KindSummary, emb.Model),
	})
	if err != nil {
		return indexOutcome{}, err
	}
	return out, nil
}

func (p *Pipeline) indexQuestions(ctx context.Context, page *crawler.Page, questions *questiongen.Result) (indexOutcome, error) {
	texts := make([]string, len(questions.Questions))
	for i, q := range questions.Questions {
		texts[i] = q.Question + "\n" + q.Answer
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return indexOutcome{}, err
	}
	out := indexOutcome{cost: p.embedder.EstimateCost(texts)}
	if len(embeddings) > 0 {
		out.model = embeddings[0].Model
		if err := p.guardFallback(ctx, embeddings[0]); err != nil {
			return indexOutcome{}, err
		}
	}

	pairs := make([]store.QAPair, len(questions.Questions))
	docs := make([]vectorstore.Document, len(questions.Questions))
	for i, q := range questions.Questions {
		id := uuid.New().String()
		pairs[i] = store.QAPair{
			ID:            id,
			ArticleID:     page.ID,
			Question:      q.Question,
			Answer:        q.Answer,
			KeywordAnchor: q.KeywordAnchor,
			Confidence:    q.Confidence,
			Embedding:     store.Vector(embeddings[i].Vector),
			Model:         questions.Model,
		}
		docs[i] = vectorstore.Document{
			ID:        id,
			Content:   texts[i],
			Embedding: embeddings[i].Vector,
			Metadata:  p.metadata(page, vectorstore.KindQA, embeddings[i].Model),
		}
	}

	if err := p.db.ReplaceQAPairs(ctx, page.ID, pairs); err != nil {
		return indexOutcome{}, err
	}
	out.pairs = pairs

	// Drop this article's stale question vectors before indexing the new
	// set, mirroring the relational swap.
	stale, err := p.vectors.FindByFilter(ctx, vectorstore.Filter{
		"article_id": page.ID,
		"kind":       vectorstore.KindQA,
	}, 0)
	if err == nil {
		for _, doc := range stale {
			_ = p.vectors.Delete(ctx, doc.ID)
		}
	}
	if _, err := p.vectors.AddBatch(ctx, docs); err != nil {
		return indexOutcome{}, err
	}
	return out, nil
}

func (p *Pipeline) metadata(page *crawler.Page, kind, model string) vectorstore.Metadata {
	return vectorstore.Metadata{
		ArticleID: page.ID,
		URL:       page.URL,
		Domain:    page.Domain,
		Kind:      kind,
		Title:     page.Title,
		Language:  page.Language,
		Model:     model,
	}
}

// invalidate drops cached reads that the new artifacts supersede.
func (p *Pipeline) invalidate(ctx context.Context, page *crawler.Page) {
	if p.cache == nil || !p.cache.Enabled() {
		return
	}
	if err := p.cache.Delete(ctx, cache.MakeKey("questions", page.URL)); err != nil {
		p.logger.Warn("Cache invalidation failed", zap.Error(err))
	}
	if _, err := p.cache.DeletePattern(ctx, cache.MakeKey("similar", "*")); err != nil {
		p.logger.Warn("Cache invalidation failed", zap.Error(err))
	}
}

// Delete removes an article's artifacts everywhere: vector index first,
// then the relational rows (which cascade), then cached reads.
func (p *Pipeline) Delete(ctx context.Context, articleID string) error {
	article, err := p.db.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}
	docs, err := p.vectors.FindByFilter(ctx, vectorstore.Filter{"article_id": articleID}, 0)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := p.vectors.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	if err := p.db.DeleteArticle(ctx, articleID); err != nil {
		return err
	}
	if p.cache != nil && p.cache.Enabled() {
		_ = p.cache.Delete(ctx, cache.MakeKey("questions", article.URL))
		_, _ = p.cache.DeletePattern(ctx, cache.MakeKey("similar", "*"))
	}
	return nil
}
