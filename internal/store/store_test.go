package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), zap.NewNop()), mock
}

func TestSaveArticleUpsert(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`INSERT INTO articles`).
		WithArgs("id1", "https://example.com/p", "example.com", "Title", "Content", "en").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveArticle(context.Background(), &Article{
		ID: "id1", URL: "https://example.com/p", Domain: "example.com",
		Title: "Title", Content: "Content", Language: "en",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArticleNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`SELECT \* FROM articles WHERE id`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetArticle(context.Background(), "ghost")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestGetArticleByURL(t *testing.T) {
	s, mock := mockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "url", "domain", "title", "content", "language", "created_at", "updated_at"}).
		AddRow("id1", "https://example.com/p", "example.com", "Title", "Content", "en", now, now)
	mock.ExpectQuery(`SELECT \* FROM articles WHERE url`).
		WithArgs("https://example.com/p").
		WillReturnRows(rows)

	a, err := s.GetArticleByURL(context.Background(), "https://example.com/p")
	require.NoError(t, err)
	assert.Equal(t, "id1", a.ID)
	assert.Equal(t, "example.com", a.Domain)
}

func TestDeleteArticleNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`DELETE FROM articles WHERE id`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteArticle(context.Background(), "ghost")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestReplaceQAPairsTransaction(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM qa_pairs WHERE article_id`).
		WithArgs("art1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`INSERT INTO qa_pairs \(id, article_id, question, answer, keyword_anchor,`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO qa_pairs \(id, article_id, question, answer, keyword_anchor,`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pairs := []QAPair{
		{ID: "q1", Question: "Q1?", Answer: "A1.", KeywordAnchor: "one", Confidence: 0.9, Embedding: Vector([]float32{1, 0})},
		{ID: "q2", Question: "Q2?", Answer: "A2.", KeywordAnchor: "two", Confidence: 0.8, Embedding: Vector([]float32{0, 1})},
	}
	err := s.ReplaceQAPairs(context.Background(), "art1", pairs)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	// Positions follow the incoming order.
	assert.Equal(t, 0, pairs[0].Position)
	assert.Equal(t, 1, pairs[1].Position)
	assert.Equal(t, "art1", pairs[0].ArticleID)
}

func TestReplaceQAPairsRollsBackOnInsertFailure(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM qa_pairs WHERE article_id`).
		WithArgs("art1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO qa_pairs`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.ReplaceQAPairs(context.Background(), "art1", []QAPair{
		{ID: "q1", Question: "Q1?", Answer: "A1."},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQAPairsOrderedByPosition(t *testing.T) {
	s, mock := mockStore(t)
	rows := sqlmock.NewRows([]string{"id", "article_id", "question", "answer", "confidence", "model", "position", "click_count", "created_at"}).
		AddRow("q1", "art1", "First?", "A.", 0.9, "m", 0, 0, time.Now()).
		AddRow("q2", "art1", "Second?", "B.", 0.5, "m", 1, 3, time.Now())
	mock.ExpectQuery(`SELECT \* FROM qa_pairs WHERE article_id = \$1 ORDER BY position ASC`).
		WithArgs("art1").
		WillReturnRows(rows)

	pairs, err := s.GetQAPairs(context.Background(), "art1")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "First?", pairs[0].Question)
	assert.Equal(t, int64(3), pairs[1].ClickCount)
}

func TestRecordClick(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`UPDATE qa_pairs SET click_count = click_count \+ 1 WHERE id = \$1 RETURNING click_count`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows([]string{"click_count"}).AddRow(7))

	n, err := s.RecordClick(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRecordClickNotFound(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery(`UPDATE qa_pairs SET click_count`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"click_count"}))

	_, err := s.RecordClick(context.Background(), "ghost")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestSaveSummaryUpsert(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec(`INSERT INTO summaries \(article_id, summary, key_points,`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveSummary(context.Background(), &Summary{
		ArticleID: "art1", Summary: "The summary.",
		KeyPoints: pq.StringArray{"First point.", "Second point."},
		Model:     "gpt-4o-mini",
		Embedding: Vector([]float32{1, 0}),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1, 0}
	assert.Equal(t, in, Float32s(Vector(in)))
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "app", Password: "pw", Database: "pagesage"}
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=pagesage sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
