// Package search serves the read side: questions for a URL, similar
// questions across articles, and click feedback. Reads go through the
// cache; cache failures degrade to direct reads.
package search

import (
	"context"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/cache"
	"github.com/pagesage/pagesage/internal/crawler"
	"github.com/pagesage/pagesage/internal/metrics"
	"github.com/pagesage/pagesage/internal/store"
	"github.com/pagesage/pagesage/internal/vectorstore"
)

const (
	questionsTTL = time.Hour
	similarTTL   = 2 * time.Hour

	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
	snippetLength       = 150

	// similarOverfetch widens the vector query so post-filtering (source
	// article exclusion, domain scoping) still fills the requested limit.
	similarOverfetch = 4
)

// Reads is the slice of the relational store the search side needs.
type Reads interface {
	GetArticleByURL(ctx context.Context, url string) (*store.Article, error)
	GetArticle(ctx context.Context, id string) (*store.Article, error)
	GetQAPairs(ctx context.Context, articleID string) ([]store.QAPair, error)
	GetQAPair(ctx context.Context, id string) (*store.QAPair, error)
	RecordClick(ctx context.Context, questionID string) (int64, error)
}

// QuestionsResponse is the wire shape for a questions-by-url lookup.
type QuestionsResponse struct {
	ArticleID string         `json:"article_id"`
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary,omitempty"`
	Questions []store.QAPair `json:"questions"`
}

// SimilarArticle is one cross-article similarity hit, ranked by summary
// embedding distance. Each article appears at most once.
type SimilarArticle struct {
	ArticleID string  `json:"article_id"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"summary_snippet"`
	Score     float64 `json:"similarity_score"`
}

// Service answers read queries.
type Service struct {
	db      Reads
	vectors vectorstore.Store
	cache   *cache.Cache
	summary func(ctx context.Context, articleID string) (*store.Summary, error)
	logger  *zap.Logger
}

// New creates the search service. summaryFn may be nil when summaries
// should not be inlined into question responses.
func New(db Reads, vectors vectorstore.Store, c *cache.Cache, summaryFn func(ctx context.Context, articleID string) (*store.Summary, error), logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, vectors: vectors, cache: c, summary: summaryFn, logger: logger}
}

// QuestionsByURL returns the stored questions for an article URL,
// cache-first.
func (s *Service) QuestionsByURL(ctx context.Context, rawURL string) (*QuestionsResponse, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	metrics.SearchQueriesTotal.WithLabelValues("questions").Inc()

	key := cache.MakeKey("questions", normalized)
	var cached QuestionsResponse
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
		return &cached, nil
	} else if err != nil {
		s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()

	article, err := s.db.GetArticleByURL(ctx, normalized)
	if err != nil {
		return nil, err
	}
	pairs, err := s.db.GetQAPairs(ctx, article.ID)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no questions for url %s", normalized)
	}

	resp := &QuestionsResponse{
		ArticleID: article.ID,
		URL:       article.URL,
		Title:     article.Title,
		Questions: pairs,
	}
	if s.summary != nil {
		if sum, err := s.summary(ctx, article.ID); err == nil {
			resp.Summary = sum.Summary
		}
	}
	if err := s.cache.SetJSON(ctx, key, resp, questionsTTL); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return resp, nil
}

// domainPattern matches a domain and its subdomains, case-insensitively.
func domainPattern(domain string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)^(?:[a-z0-9-]+\.)*` + regexp.QuoteMeta(domain) + `$`)
}

// FindSimilar returns articles ranked by summary-embedding similarity to
// the article that owns the given question. An optional domain scopes
// results to that domain and its subdomains.
func (s *Service) FindSimilar(ctx context.Context, questionID string, limit int, domain string) ([]SimilarArticle, error) {
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}
	metrics.SearchQueriesTotal.WithLabelValues("similar").Inc()

	key := cache.MakeKey("similar", questionID, strconv.Itoa(limit), domain)
	var cached []SimilarArticle
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		metrics.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
		return cached, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()

	pair, err := s.db.GetQAPair(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if len(pair.Embedding) == 0 {
		return nil, apperrors.Newf(apperrors.CodeCorruptArtifact, "question %s has no embedding", questionID)
	}

	var scope *regexp.Regexp
	if domain != "" {
		scope, err = domainPattern(domain)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid domain", err)
		}
	}

	results, err := s.vectors.SimilaritySearch(ctx, store.Float32s(pair.Embedding),
		limit*similarOverfetch, vectorstore.Filter{"kind": vectorstore.KindSummary}, 0)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarArticle, 0, limit)
	seen := make(map[string]bool, limit)
	for _, r := range results {
		meta := r.Document.Metadata
		if meta.ArticleID == pair.ArticleID || seen[meta.ArticleID] {
			continue
		}
		if scope != nil && !scope.MatchString(meta.Domain) {
			continue
		}
		article, err := s.db.GetArticle(ctx, meta.ArticleID)
		if err != nil {
			// Vector index entries can outlive their rows briefly; skip.
			continue
		}
		seen[meta.ArticleID] = true
		out = append(out, SimilarArticle{
			ArticleID: article.ID,
			URL:       article.URL,
			Title:     article.Title,
			Snippet:   snippet(r.Document.Content),
			Score:     r.Score,
		})
		if len(out) == limit {
			break
		}
	}

	if err := s.cache.SetJSON(ctx, key, out, similarTTL); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// Click records a click on a question and returns the new count.
func (s *Service) Click(ctx context.Context, questionID string) (int64, error) {
	return s.db.RecordClick(ctx, questionID)
}

func snippet(text string) string {
	if len(text) <= snippetLength {
		return text
	}
	end := snippetLength
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	for i := len(cut) - 1; i > snippetLength-20 && i > 0; i-- {
		if cut[i] == ' ' {
			return cut[:i] + "…"
		}
	}
	return cut + "…"
}
