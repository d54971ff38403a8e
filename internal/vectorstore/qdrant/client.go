// Package qdrant implements the vector store interface against a Qdrant
// instance over its HTTP API. Semantics match the in-memory reference
// backend; anything Qdrant cannot express (created_at tie-breaks) is
// rescored in process.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/circuitbreaker"
	"github.com/pagesage/pagesage/internal/vectorstore"
)

// Config controls the Qdrant client.
type Config struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// Store is a Qdrant-backed vector store.
type Store struct {
	cfg     Config
	base    string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// New creates a Qdrant store and ensures its collection exists with a
// cosine metric and the configured dimension.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "pagesage_artifacts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:     cfg,
		base:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("qdrant", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ vectorstore.Store = (*Store)(nil)

func (s *Store) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var buf *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	} else {
		buf = bytes.NewReader(nil)
	}

	return s.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, s.base+path, buf)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.http.Do(req)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeNetwork, "qdrant request failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.Newf(apperrors.CodeNotFound, "qdrant returned 404 for %s", path)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperrors.Newf(apperrors.CodeNetwork, "qdrant status %d for %s", resp.StatusCode, path)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *Store) ensureCollection(ctx context.Context) error {
	// Existence probe; create on 404.
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		return err
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.cfg.Dimension,
			"distance": "Cosine",
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil)
}

// pointID derives a stable Qdrant-compatible UUID from a document id.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

func payloadFor(doc vectorstore.Document) map[string]interface{} {
	p := map[string]interface{}{
		"doc_id":     doc.ID,
		"content":    doc.Content,
		"created_at": doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	m := doc.Metadata
	if m.ArticleID != "" {
		p["article_id"] = m.ArticleID
	}
	if m.URL != "" {
		p["url"] = m.URL
	}
	if m.Domain != "" {
		p["domain"] = m.Domain
	}
	if m.Kind != "" {
		p["kind"] = m.Kind
	}
	if m.Title != "" {
		p["title"] = m.Title
	}
	if m.Language != "" {
		p["language"] = m.Language
	}
	if m.Model != "" {
		p["model"] = m.Model
	}
	if len(m.Tags) > 0 {
		p["tags"] = m.Tags
	}
	if len(m.Categories) > 0 {
		p["categories"] = m.Categories
	}
	for k, v := range m.Custom {
		p["custom."+k] = v
	}
	return p
}

func docFromPayload(payload map[string]interface{}, vec []float32) vectorstore.Document {
	str := func(key string) string {
		if v, ok := payload[key].(string); ok {
			return v
		}
		return ""
	}
	list := func(key string) []string {
		raw, ok := payload[key].([]interface{})
		if !ok {
			return nil
		}
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if sv, ok := v.(string); ok {
				out = append(out, sv)
			}
		}
		return out
	}
	doc := vectorstore.Document{
		ID:        str("doc_id"),
		Content:   str("content"),
		Embedding: vec,
		Metadata: vectorstore.Metadata{
			ArticleID:  str("article_id"),
			URL:        str("url"),
			Domain:     str("domain"),
			Kind:       str("kind"),
			Title:      str("title"),
			Language:   str("language"),
			Model:      str("model"),
			Tags:       list("tags"),
			Categories: list("categories"),
		},
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("created_at")); err == nil {
		doc.CreatedAt = ts
	}
	for k, v := range payload {
		if len(k) > 7 && k[:7] == "custom." {
			if sv, ok := v.(string); ok {
				if doc.Metadata.Custom == nil {
					doc.Metadata.Custom = make(map[string]string)
				}
				doc.Metadata.Custom[k[7:]] = sv
			}
		}
	}
	return doc
}

// filterFor translates the flat filter grammar into a Qdrant must-clause
// filter. List-valued expectations map to match-any, which gives the
// non-empty-intersection semantics on array payload fields.
func filterFor(filter vectorstore.Filter) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(filter))
	for key, expected := range filter {
		qkey := key
		switch key {
		case "article_id", "url", "domain", "kind", "title", "language", "model", "tags", "categories":
		default:
			qkey = "custom." + key
		}
		switch e := expected.(type) {
		case []string:
			vals := make([]interface{}, len(e))
			for i, v := range e {
				vals[i] = v
			}
			must = append(must, map[string]interface{}{
				"key":   qkey,
				"match": map[string]interface{}{"any": vals},
			})
		case []interface{}:
			must = append(must, map[string]interface{}{
				"key":   qkey,
				"match": map[string]interface{}{"any": e},
			})
		default:
			must = append(must, map[string]interface{}{
				"key":   qkey,
				"match": map[string]interface{}{"value": e},
			})
		}
	}
	return map[string]interface{}{"must": must}
}
