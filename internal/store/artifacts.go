package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// Summary is the persisted summary artifact for an article.
type Summary struct {
	ArticleID string          `db:"article_id" json:"article_id"`
	Summary   string          `db:"summary" json:"summary"`
	KeyPoints pq.StringArray  `db:"key_points" json:"key_points"`
	Model     string          `db:"model" json:"model"`
	Embedding pq.Float64Array `db:"embedding" json:"-"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// QAPair is a persisted question/answer artifact.
type QAPair struct {
	ID            string          `db:"id" json:"id"`
	ArticleID     string          `db:"article_id" json:"article_id"`
	Question      string          `db:"question" json:"question"`
	Answer        string          `db:"answer" json:"answer"`
	KeywordAnchor string          `db:"keyword_anchor" json:"keyword_anchor"`
	Confidence    float64         `db:"confidence" json:"confidence"`
	Embedding     pq.Float64Array `db:"embedding" json:"-"`
	Model         string          `db:"model" json:"model"`
	Position      int             `db:"position" json:"position"`
	ClickCount    int64           `db:"click_count" json:"click_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Vector converts a float32 embedding into the array type lib/pq stores.
func Vector(vec []float32) pq.Float64Array {
	out := make(pq.Float64Array, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

// Float32s converts a stored array back to the in-memory vector type.
func Float32s(arr pq.Float64Array) []float32 {
	out := make([]float32, len(arr))
	for i, v := range arr {
		out[i] = float32(v)
	}
	return out
}

// SaveSummary upserts the single summary row for an article.
func (s *Store) SaveSummary(ctx context.Context, sum *Summary) error {
	const q = `
		INSERT INTO summaries (article_id, summary, key_points, model, embedding)
		VALUES (:article_id, :summary, :key_points, :model, :embedding)
		ON CONFLICT (article_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			key_points = EXCLUDED.key_points,
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding,
			updated_at = now()`
	if _, err := s.db.NamedExecContext(ctx, q, sum); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "save summary failed", err)
	}
	return nil
}

// GetSummary fetches the summary for an article.
func (s *Store) GetSummary(ctx context.Context, articleID string) (*Summary, error) {
	var sum Summary
	err := s.db.GetContext(ctx, &sum, `SELECT * FROM summaries WHERE article_id = $1`, articleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no summary for article %s", articleID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get summary failed", err)
	}
	return &sum, nil
}

// ReplaceQAPairs swaps the full question set for an article in one
// transaction, so re-processing never leaves a mix of old and new rows.
func (s *Store) ReplaceQAPairs(ctx context.Context, articleID string, pairs []QAPair) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "begin transaction failed", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM qa_pairs WHERE article_id = $1`, articleID); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "clear qa pairs failed", err)
	}
	const q = `
		INSERT INTO qa_pairs (id, article_id, question, answer, keyword_anchor, confidence, embedding, model, position)
		VALUES (:id, :article_id, :question, :answer, :keyword_anchor, :confidence, :embedding, :model, :position)`
	for i := range pairs {
		pairs[i].ArticleID = articleID
		pairs[i].Position = i
		if _, err := tx.NamedExecContext(ctx, q, &pairs[i]); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "insert qa pair failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "commit qa pairs failed", err)
	}
	return nil
}

// GetQAPairs returns an article's questions in the order the model
// produced them.
func (s *Store) GetQAPairs(ctx context.Context, articleID string) ([]QAPair, error) {
	var out []QAPair
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM qa_pairs WHERE article_id = $1 ORDER BY position ASC`, articleID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get qa pairs failed", err)
	}
	return out, nil
}

// GetQAPair fetches one question by id.
func (s *Store) GetQAPair(ctx context.Context, id string) (*QAPair, error) {
	var pair QAPair
	err := s.db.GetContext(ctx, &pair, `SELECT * FROM qa_pairs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "question %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "get qa pair failed", err)
	}
	return &pair, nil
}

// RecordClick atomically increments a question's click counter and
// returns the new count.
func (s *Store) RecordClick(ctx context.Context, questionID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`UPDATE qa_pairs SET click_count = click_count + 1 WHERE id = $1 RETURNING click_count`,
		questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.Newf(apperrors.CodeNotFound, "question %s not found", questionID)
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "record click failed", err)
	}
	return count, nil
}
