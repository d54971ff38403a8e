// Package vectorstore defines the vector document store used for
// similarity search over article artifacts, with an in-memory reference
// backend and a persistent Qdrant backend sharing the same semantics.
package vectorstore

import (
	"context"
	"time"
)

// Kind values for indexed documents.
const (
	KindSummary = "summary"
	KindQA      = "qa"
)

// Metadata carries the filterable projection of a document.
type Metadata struct {
	ArticleID  string            `json:"article_id,omitempty"`
	URL        string            `json:"url,omitempty"`
	Domain     string            `json:"domain,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Title      string            `json:"title,omitempty"`
	Language   string            `json:"language,omitempty"`
	Model      string            `json:"model,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
}

// Document is a stored vector with its source content and metadata.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter is a flat field->expected map. A list-valued expectation against
// the list-valued fields (tags, categories) means non-empty intersection;
// everything else is equality. Unknown keys match nothing.
type Filter map[string]interface{}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Store is implemented by every vector backend. The in-memory store is the
// correctness reference; persistent backends must match its semantics.
type Store interface {
	Add(ctx context.Context, doc Document) (string, error)
	AddBatch(ctx context.Context, docs []Document) ([]string, error)
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, doc Document) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, filter Filter) (int, error)
	SimilaritySearch(ctx context.Context, query []float32, k int, filter Filter, threshold float64) ([]SearchResult, error)
	// FindByFilter is the filter-only lookup primitive: no query vector,
	// deterministic order (created_at, then id).
	FindByFilter(ctx context.Context, filter Filter, limit int) ([]Document, error)
	Clear(ctx context.Context) error
	Healthcheck(ctx context.Context) error
}
