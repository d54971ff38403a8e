package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/similarity"
)

// Memory is the in-memory reference backend. A single writer / many
// readers discipline guards the document map; searches hold the read
// section only.
type Memory struct {
	mu        sync.RWMutex
	docs      map[string]Document
	dimension int // fixed by the first add
	logger    *zap.Logger
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{docs: make(map[string]Document), logger: logger}
}

var _ Store = (*Memory)(nil)

func (s *Memory) checkDimensionLocked(vec []float32) error {
	if len(vec) == 0 {
		return apperrors.New(apperrors.CodeShape, "document has no embedding")
	}
	if s.dimension == 0 {
		s.dimension = len(vec)
		return nil
	}
	if len(vec) != s.dimension {
		return apperrors.Newf(apperrors.CodeDimensionMismatch,
			"embedding dimension %d does not match index dimension %d", len(vec), s.dimension)
	}
	return nil
}

// Add stores a document. Re-adding an existing id overwrites it with a
// warning. The first add fixes the index dimension.
func (s *Memory) Add(_ context.Context, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDimensionLocked(doc.Embedding); err != nil {
		return "", err
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if _, exists := s.docs[doc.ID]; exists {
		s.logger.Warn("Overwriting existing vector document", zap.String("id", doc.ID))
	}
	s.docs[doc.ID] = doc
	return doc.ID, nil
}

// AddBatch stores documents, stopping at the first failure.
func (s *Memory) AddBatch(ctx context.Context, docs []Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := s.Add(ctx, doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get fetches a document by id.
func (s *Memory) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "document %s not found", id)
	}
	return &doc, nil
}

// Update replaces an existing document.
func (s *Memory) Update(_ context.Context, id string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[id]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "document %s not found", id)
	}
	if err := s.checkDimensionLocked(doc.Embedding); err != nil {
		return err
	}
	doc.ID = id
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = existing.CreatedAt
	}
	s.docs[id] = doc
	return nil
}

// Delete removes a document; deleting an absent id is not an error.
func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

// Count returns the number of documents matching the filter.
func (s *Memory) Count(_ context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(filter) == 0 {
		return len(s.docs), nil
	}
	n := 0
	for _, doc := range s.docs {
		if filter.Matches(doc.Metadata) {
			n++
		}
	}
	return n, nil
}

// SimilaritySearch ranks filtered candidates by cosine similarity against
// the query, keeps scores >= threshold, and returns the top k. Ties break
// toward the older document.
func (s *Memory) SimilaritySearch(_ context.Context, query []float32, k int, filter Filter, threshold float64) ([]SearchResult, error) {
	if k <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "k must be positive")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension > 0 && len(query) != s.dimension {
		return nil, apperrors.Newf(apperrors.CodeDimensionMismatch,
			"query dimension %d does not match index dimension %d", len(query), s.dimension)
	}

	results := make([]SearchResult, 0, len(s.docs))
	for _, doc := range s.docs {
		if len(filter) > 0 && !filter.Matches(doc.Metadata) {
			continue
		}
		score, err := similarity.Cosine(query, doc.Embedding)
		if err != nil {
			return nil, err
		}
		if score >= threshold {
			results = append(results, SearchResult{Document: doc, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Document.CreatedAt.Equal(results[j].Document.CreatedAt) {
			return results[i].Document.CreatedAt.Before(results[j].Document.CreatedAt)
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// FindByFilter returns matching documents in deterministic order
// (created_at ascending, then id) without touching any vector.
func (s *Memory) FindByFilter(_ context.Context, filter Filter, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0)
	for _, doc := range s.docs {
		if len(filter) > 0 && !filter.Matches(doc.Metadata) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Clear removes every document and resets the index dimension.
func (s *Memory) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]Document)
	s.dimension = 0
	return nil
}

// Healthcheck always succeeds for the in-memory backend.
func (s *Memory) Healthcheck(context.Context) error { return nil }
