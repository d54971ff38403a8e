package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/pipeline"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/questiongen"
	"github.com/pagesage/pagesage/internal/store"
)

// processRequest is the body of both processing endpoints.
type processRequest struct {
	URL          string `json:"url"`
	NumQuestions int    `json:"num_questions"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (req *processRequest) validate() error {
	if strings.TrimSpace(req.URL) == "" {
		return apperrors.New(apperrors.CodeValidation, "url is required")
	}
	if req.NumQuestions == 0 {
		req.NumQuestions = 5
	}
	if req.NumQuestions < 1 || req.NumQuestions > 20 {
		return apperrors.Newf(apperrors.CodeValidation, "num_questions %d out of range [1,20]", req.NumQuestions)
	}
	return nil
}

// processingResult is the wire shape of a processing run.
type processingResult struct {
	BlogURL          string          `json:"blog_url"`
	BlogID           string          `json:"blog_id"`
	Status           string          `json:"status"`
	Summary          *summaryPayload `json:"summary,omitempty"`
	Questions        []qaProjection  `json:"questions"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
	Message          string          `json:"message,omitempty"`
	Error            *wireError      `json:"error,omitempty"`
}

type summaryPayload struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// wireError is the structured failure detail on a failed run.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// qaProjection is the client-facing view of a stored question.
type qaProjection struct {
	ID            string  `json:"id"`
	ArticleID     string  `json:"article_id"`
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	KeywordAnchor string  `json:"keyword_anchor"`
	Confidence    float64 `json:"confidence"`
	ClickCount    int64   `json:"click_count"`
}

func projectQA(p store.QAPair) qaProjection {
	return qaProjection{
		ID:            p.ID,
		ArticleID:     p.ArticleID,
		Question:      p.Question,
		Answer:        p.Answer,
		KeywordAnchor: p.KeywordAnchor,
		Confidence:    p.Confidence,
		ClickCount:    p.ClickCount,
	}
}

func wireResult(res *pipeline.Result) processingResult {
	out := processingResult{
		BlogURL:          res.URL,
		BlogID:           res.ArticleID,
		Status:           "success",
		ProcessingTimeMS: res.DurationMS,
		Questions:        make([]qaProjection, 0, len(res.Questions)),
	}
	if res.Summary != "" {
		out.Summary = &summaryPayload{Summary: res.Summary, KeyPoints: res.KeyPoints}
	}
	for _, q := range res.Questions {
		out.Questions = append(out.Questions, projectQA(q))
	}
	var notes []string
	switch res.Status {
	case pipeline.StatusFailed:
		out.Status = "failed"
		out.Error = &wireError{
			Code:    "qa_generation_failed",
			Message: strings.Join(res.Warnings, "; "),
		}
	case pipeline.StatusPartial:
		notes = append(notes, "partial result")
		notes = append(notes, res.Warnings...)
	case pipeline.StatusCached:
		notes = append(notes, "served from stored artifacts")
	}
	if res.Degraded {
		notes = append(notes, "questions generated by degraded extraction")
	}
	out.Message = strings.Join(notes, "; ")
	return out
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pipeline.Process(r.Context(), req.URL, pipeline.Options{
		QuestionCount: req.NumQuestions,
		Force:         req.ForceRefresh,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wireResult(res))
}

func (s *Server) handleProcessAsync(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	job := s.jobs.Submit(req.URL, pipeline.Options{
		QuestionCount: req.NumQuestions,
		Force:         req.ForceRefresh,
	})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"status":     job.Status,
		"url":        job.URL,
		"created_at": job.CreatedAt,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQuestionsByURL(w http.ResponseWriter, r *http.Request) {
	blogURL := r.URL.Query().Get("blog_url")
	if blogURL == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "blog_url is required"))
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "limit out of range [1,100]"))
			return
		}
		limit = n
	}

	resp, err := s.search.QuestionsByURL(r.Context(), blogURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	questions := resp.Questions
	if len(questions) > limit {
		questions = questions[:limit]
	}
	projected := make([]qaProjection, len(questions))
	for i, q := range questions {
		projected[i] = projectQA(q)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"article_id": resp.ArticleID,
		"url":        resp.URL,
		"title":      resp.Title,
		"summary":    resp.Summary,
		"questions":  projected,
	})
}

func (s *Server) handleQuestionByID(w http.ResponseWriter, r *http.Request) {
	pair, err := s.db.GetQAPair(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectQA(*pair))
}

func (s *Server) handleQuestionClick(w http.ResponseWriter, r *http.Request) {
	count, err := s.search.Click(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"question_id": r.PathValue("id"),
		"click_count": count,
	})
}

type similarRequest struct {
	QuestionID string `json:"question_id"`
	Limit      int    `json:"limit"`
	Domain     string `json:"domain"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.QuestionID == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "question_id is required"))
		return
	}
	if req.Limit == 0 {
		req.Limit = 3
	}
	if req.Limit < 1 || req.Limit > 10 {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "limit out of range [1,10]"))
		return
	}

	source, err := s.db.GetQAPair(r.Context(), req.QuestionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hits, err := s.search.FindSimilar(r.Context(), req.QuestionID, req.Limit, req.Domain)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	similar := make([]map[string]interface{}, len(hits))
	for i, h := range hits {
		similar[i] = map[string]interface{}{
			"article_id":       h.ArticleID,
			"title":            h.Title,
			"url":              h.URL,
			"similarity_score": h.Score,
			"summary_snippet":  h.Snippet,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"question_id":   req.QuestionID,
		"question_text": source.Question,
		"similar_blogs": similar,
	})
}

type answerRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	MaxWords int    `json:"max_words"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "question is required"))
		return
	}
	if req.MaxWords == 0 {
		req.MaxWords = 200
	}
	if req.MaxWords < 10 || req.MaxWords > 1000 {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "max_words out of range [10,1000]"))
		return
	}

	prompt := "Answer the question in at most " + strconv.Itoa(req.MaxWords) + " words. Plain prose."
	content := req.Question
	if req.Context != "" {
		content = "Context:\n" + req.Context + "\n\nQuestion: " + req.Question
	}
	resp, err := s.llm.Generate(r.Context(), providers.ChatRequest{
		SystemPrompt: prompt,
		Messages:     []providers.Message{{Role: providers.RoleUser, Content: content}},
		Temperature:  0.3,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	answer := strings.TrimSpace(resp.Content)
	words := strings.Fields(answer)
	if len(words) > req.MaxWords {
		answer = strings.Join(words[:req.MaxWords], " ")
		words = words[:req.MaxWords]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"question":   req.Question,
		"answer":     answer,
		"word_count": len(words),
		"model":      resp.Model,
		"provider":   resp.Provider,
	})
}

type generateQuestionsRequest struct {
	Content      string `json:"content"`
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

var difficultyInstructions = map[string]string{
	"easy":   "Ask basic comprehension questions a first-time reader can answer.",
	"medium": "Ask questions that require connecting two or more points in the text.",
	"hard":   "Ask analytical questions about implications, trade-offs and unstated assumptions.",
}

func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req generateQuestionsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "content is required"))
		return
	}
	if req.NumQuestions == 0 {
		req.NumQuestions = 5
	}
	if req.NumQuestions < 1 || req.NumQuestions > 20 {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "num_questions out of range [1,20]"))
		return
	}
	difficulty := strings.ToLower(req.Difficulty)
	instructions, ok := difficultyInstructions[difficulty]
	if req.Difficulty != "" && !ok {
		s.writeError(w, r, apperrors.Newf(apperrors.CodeValidation, "unknown difficulty %q", req.Difficulty))
		return
	}

	res, err := s.qgen.GenerateQuestions(r.Context(), "", req.Content, questiongen.Options{
		Count:        req.NumQuestions,
		Instructions: instructions,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]interface{}, len(res.Questions))
	for i, q := range res.Questions {
		out[i] = map[string]interface{}{
			"question":       q.Question,
			"answer":         q.Answer,
			"keyword_anchor": q.KeywordAnchor,
			"difficulty":     difficulty,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questions": out,
		"model":     res.Model,
		"provider":  res.Provider,
		"degraded":  res.Degraded,
	})
}

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "text is required"))
		return
	}
	emb, err := s.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"embedding":  emb.Vector,
		"model":      emb.Model,
		"dimensions": emb.Dimension,
	})
}

type embedBatchRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

func (s *Server) handleEmbedBatch(w http.ResponseWriter, r *http.Request) {
	var req embedBatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > 100 {
		s.writeError(w, r, apperrors.New(apperrors.CodeValidation, "texts must contain 1 to 100 entries"))
		return
	}
	embeddings, err := s.embedder.EmbedBatch(r.Context(), req.Texts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = e.Vector
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"embeddings":  vectors,
		"model":       embeddings[0].Model,
		"dimensions":  embeddings[0].Dimension,
		"total_texts": len(vectors),
	})
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"article_id": r.PathValue("id"),
		"deleted":    true,
	})
}
