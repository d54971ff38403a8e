package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Article is the persisted source document.
type Article struct {
	ID        string    `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	Domain    string    `db:"domain" json:"domain"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	Language  string    `db:"language" json:"language"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SaveArticle upserts an article keyed by its content-address id.
// Re-saving the same URL refreshes content, title and updated_at.
func (s *Store) SaveArticle(ctx context.Context, a *Article) error {
	const q = `
		INSERT INTO articles (id, url, domain, title, content, language)
		VALUES (:id, :url, :domain, :title, :content, :language)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			language = EXCLUDED.language,
			updated_at = now()`
	if _, err := s.db.NamedExecContext(ctx, q, a); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "save article failed", err)
	}
	return nil
}

// GetArticle fetches an article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a, `SELECT * FROM articles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "article %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get article failed", err)
	}
	return &a, nil
}

// GetArticleByURL fetches an article by its normalized URL.
func (s *Store) GetArticleByURL(ctx context.Context, url string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a, `SELECT * FROM articles WHERE url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no article for url %s", url)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get article by url failed", err)
	}
	return &a, nil
}

// DeleteArticle removes an article; summaries and Q&A pairs cascade.
// Deleting an absent id reports not_found so admin callers get a clear
// signal.
func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "delete article failed", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "article %s not found", id)
	}
	return nil
}

// ListArticlesByDomain returns article ids under a domain, newest first.
func (s *Store) ListArticlesByDomain(ctx context.Context, domain string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Article
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM articles WHERE domain = $1 ORDER BY created_at DESC LIMIT $2`, domain, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list articles failed", err)
	}
	return out, nil
}
