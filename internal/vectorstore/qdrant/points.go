package qdrant

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/vectorstore"
)

type pointOut struct {
	ID      interface{}            `json:"id"`
	Payload map[string]interface{} `json:"payload"`
	Vector  []float32              `json:"vector,omitempty"`
	Score   float64                `json:"score,omitempty"`
}

// Add upserts a single document. The Qdrant point id is derived
// deterministically from the document id, so re-adding overwrites.
func (s *Store) Add(ctx context.Context, doc vectorstore.Document) (string, error) {
	ids, err := s.AddBatch(ctx, []vectorstore.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AddBatch upserts documents in one request.
func (s *Store) AddBatch(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(docs))
	points := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) != s.cfg.Dimension {
			return nil, apperrors.Newf(apperrors.CodeDimensionMismatch,
				"embedding dimension %d does not match collection dimension %d",
				len(doc.Embedding), s.cfg.Dimension)
		}
		if doc.ID == "" {
			return nil, apperrors.New(apperrors.CodeValidation, "document id is required")
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = time.Now()
		}
		ids[i] = doc.ID
		points[i] = map[string]interface{}{
			"id":      pointID(doc.ID),
			"vector":  doc.Embedding,
			"payload": payloadFor(doc),
		}
	}
	body := map[string]interface{}{"points": points}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return nil, err
	}
	s.logger.Debug("Upserted vector points",
		zap.Int("count", len(points)),
		zap.String("collection", s.cfg.Collection),
	)
	return ids, nil
}

// Get fetches a document by its original id.
func (s *Store) Get(ctx context.Context, id string) (*vectorstore.Document, error) {
	var out struct {
		Result struct {
			Payload map[string]interface{} `json:"payload"`
			Vector  []float32              `json:"vector"`
		} `json:"result"`
	}
	path := s.collectionPath("/points/" + pointID(id) + "?with_vector=true")
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "document %s not found", id)
		}
		return nil, err
	}
	doc := docFromPayload(out.Result.Payload, out.Result.Vector)
	return &doc, nil
}

// Update replaces an existing document under the same id.
func (s *Store) Update(ctx context.Context, id string, doc vectorstore.Document) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	doc.ID = id
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = existing.CreatedAt
	}
	_, err = s.Add(ctx, doc)
	return err
}

// Delete removes a document; absent ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	body := map[string]interface{}{"points": []string{pointID(id)}}
	return s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil)
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, filter vectorstore.Filter) (int, error) {
	body := map[string]interface{}{"exact": true}
	if f := filterFor(filter); f != nil {
		body["filter"] = f
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), body, &out); err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

// SimilaritySearch runs a cosine top-k query server side, then rescores
// ties in process so ordering matches the in-memory backend.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int, filter vectorstore.Filter, threshold float64) ([]vectorstore.SearchResult, error) {
	if k <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "k must be positive")
	}
	if len(query) != s.cfg.Dimension {
		return nil, apperrors.Newf(apperrors.CodeDimensionMismatch,
			"query dimension %d does not match collection dimension %d", len(query), s.cfg.Dimension)
	}

	body := map[string]interface{}{
		"query":           query,
		"limit":           k,
		"score_threshold": threshold,
		"with_payload":    true,
		"with_vector":     true,
	}
	if f := filterFor(filter); f != nil {
		body["filter"] = f
	}

	var out struct {
		Result struct {
			Points []pointOut `json:"points"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionPath("/points/query"), body, &out)
	points := out.Result.Points
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeNotFound {
		// Older Qdrant releases only expose the legacy search route,
		// which takes "vector" and returns a flat result array.
		body["vector"] = query
		delete(body, "query")
		var legacy struct {
			Result []pointOut `json:"result"`
		}
		err = s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &legacy)
		points = legacy.Result
	}
	if err != nil {
		return nil, err
	}

	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, p := range points {
		if p.Score < threshold {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			Document: docFromPayload(p.Payload, p.Vector),
			Score:    p.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
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

// FindByFilter scrolls matching documents without a query vector and
// orders them deterministically (created_at, then id).
func (s *Store) FindByFilter(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Document, error) {
	fetch := limit
	if fetch <= 0 {
		fetch = 1000
	}
	body := map[string]interface{}{
		"limit":        fetch,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := filterFor(filter); f != nil {
		body["filter"] = f
	}

	docs := make([]vectorstore.Document, 0)
	for {
		var out struct {
			Result struct {
				Points         []pointOut  `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body, &out); err != nil {
			return nil, err
		}
		for _, p := range out.Result.Points {
			docs = append(docs, docFromPayload(p.Payload, p.Vector))
		}
		if out.Result.NextPageOffset == nil || (limit > 0 && len(docs) >= limit) {
			break
		}
		body["offset"] = out.Result.NextPageOffset
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Clear drops and recreates the collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.do(ctx, http.MethodDelete, s.collectionPath(""), nil, nil); err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeNotFound {
			return err
		}
	}
	return s.ensureCollection(ctx)
}

// Healthcheck verifies the collection is reachable.
func (s *Store) Healthcheck(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
}
