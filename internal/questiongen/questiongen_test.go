package questiongen

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
)

// scriptedLLM replays one canned response per call.
type scriptedLLM struct {
	responses []string
	err       error
	requests  []providers.ChatRequest
}

func (s *scriptedLLM) Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &providers.ChatResponse{
		Content:  s.responses[idx],
		Provider: "openai",
		Model:    "gpt-4o-mini",
	}, nil
}

const articleContent = `Go ships a race detector that instruments memory accesses at compile
time. Running tests with the detector enabled catches data races that only
manifest under production load, at the cost of slower execution.

The detector is built on the ThreadSanitizer runtime. It watches every
unsynchronized read/write pair and reports the two goroutine stacks involved.`

func TestGenerateQuestionsCleanOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"questions":[
			{"question":"What does the race detector instrument?","answer":"Memory accesses at compile time.","keyword_anchor":"race detector","confidence":0.9},
			{"question":"What runtime is it built on?","answer":"ThreadSanitizer.","keyword_anchor":"ThreadSanitizer","confidence":0.8}
		]}`,
	}}
	g := New(llm, zap.NewNop())

	res, err := g.GenerateQuestions(context.Background(), "Race detector", articleContent, Options{Count: 2})
	require.NoError(t, err)
	require.Len(t, res.Questions, 2)
	assert.False(t, res.Degraded)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, 0.9, res.Questions[0].Confidence)
	assert.Equal(t, "race detector", res.Questions[0].KeywordAnchor)
	assert.Equal(t, "ThreadSanitizer", res.Questions[1].KeywordAnchor)
	assert.Len(t, llm.requests, 1)
}

func TestGenerateQuestionsRepairsFencedOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Here you go:\n```json\n" +
			`{"questions":[{"question":"Q?","answer":"A.","confidence":0.7}]}` +
			"\n```",
	}}
	g := New(llm, zap.NewNop())

	res, err := g.GenerateQuestions(context.Background(), "t", articleContent, Options{})
	require.NoError(t, err)
	require.Len(t, res.Questions, 1)
	assert.Len(t, llm.requests, 1, "repair must not trigger a regeneration")
}

func TestGenerateQuestionsRegeneratesOnce(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"I cannot answer that.",
		`{"questions":[{"question":"Q?","answer":"A.","confidence":0.7}]}`,
	}}
	g := New(llm, zap.NewNop())

	res, err := g.GenerateQuestions(context.Background(), "t", articleContent, Options{})
	require.NoError(t, err)
	require.Len(t, res.Questions, 1)
	assert.False(t, res.Degraded)
	assert.Len(t, llm.requests, 2)
}

func TestGenerateQuestionsDegradedPath(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"garbage", "still garbage"}}
	g := New(llm, zap.NewNop())

	res, err := g.GenerateQuestions(context.Background(), "Race detector", articleContent, Options{Count: 5})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.NotEmpty(t, res.Questions)
	for _, q := range res.Questions {
		assert.LessOrEqual(t, q.Confidence, 0.3)
	}
	assert.Len(t, llm.requests, 2)
}

func TestGenerateQuestionsEmptyEnvelopeIsCorrupt(t *testing.T) {
	// Parseable but empty output means regeneration will not help.
	llm := &scriptedLLM{responses: []string{`{"questions":[]}`}}
	g := New(llm, zap.NewNop())

	_, err := g.GenerateQuestions(context.Background(), "t", articleContent, Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCorruptArtifact, apperrors.CodeOf(err))
	assert.Len(t, llm.requests, 1)
}

func TestGenerateQuestionsEmptyContent(t *testing.T) {
	g := New(&scriptedLLM{}, zap.NewNop())
	_, err := g.GenerateQuestions(context.Background(), "t", "   ", Options{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestGenerateQuestionsPropagatesLLMError(t *testing.T) {
	llm := &scriptedLLM{err: apperrors.New(apperrors.CodeAllProvidersFailed, "all down")}
	g := New(llm, zap.NewNop())
	_, err := g.GenerateQuestions(context.Background(), "t", articleContent, Options{})
	assert.Equal(t, apperrors.CodeAllProvidersFailed, apperrors.CodeOf(err))
}

func TestGenerateQuestionsPromptShape(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"questions":[{"question":"Q?","answer":"A.","confidence":0.7}]}`,
	}}
	g := New(llm, zap.NewNop())

	long := strings.Repeat("word ", 3000)
	_, err := g.GenerateQuestions(context.Background(), "Title here", long, Options{
		Count:        3,
		Instructions: "Write for beginners.",
	})
	require.NoError(t, err)

	req := llm.requests[0]
	assert.Contains(t, req.SystemPrompt, "exactly 3 questions")
	assert.Contains(t, req.SystemPrompt, "Write for beginners.")
	assert.Contains(t, req.SystemPrompt, `"confidence":0.9`)
	assert.Contains(t, req.SystemPrompt, `"keyword_anchor":"X"`)
	// Content is capped before it reaches the prompt.
	assert.LessOrEqual(t, len(req.Messages[0].Content), maxContentChars+len("Title: Title here\n\nArticle:\n"))
}

func TestParseQuestionsValidation(t *testing.T) {
	// Blank entries are dropped, out-of-range confidence is defaulted,
	// and the count cap is enforced.
	raw := `{"questions":[
		{"question":"","answer":"orphan answer","confidence":0.9},
		{"question":"Q1?","answer":"A1.","confidence":1.7},
		{"question":"Q2?","answer":"A2.","confidence":0.6},
		{"question":"Q3?","answer":"A3.","confidence":0.6}
	]}`
	qs, err := parseQuestions(raw, 2)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "Q1?", qs[0].Question)
	assert.Equal(t, 0.5, qs[0].Confidence)
}

func TestParseQuestionsDerivesMissingAnchor(t *testing.T) {
	raw := `{"questions":[
		{"question":"What powers the ThreadSanitizer runtime?","answer":"Compiler instrumentation.","confidence":0.8}
	]}`
	qs, err := parseQuestions(raw, 5)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "threadsanitizer", qs[0].KeywordAnchor)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose around", `sure: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		{"brace inside string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"no object", "plain text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeJSONOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"summary":"The detector instruments memory accesses. It reports racing stacks. It slows tests.",` +
			`"key_points":["Instruments memory accesses.","Reports racing goroutine stacks.","Slows test execution."]}`,
	}}
	g := New(llm, zap.NewNop())

	res, err := g.Summarize(context.Background(), "t", articleContent, Options{})
	require.NoError(t, err)
	assert.Equal(t, "The detector instruments memory accesses. It reports racing stacks. It slows tests.", res.Summary)
	assert.Equal(t, []string{
		"Instruments memory accesses.",
		"Reports racing goroutine stacks.",
		"Slows test execution.",
	}, res.KeyPoints)
	assert.Equal(t, "gpt-4o-mini", res.Model)
}

func TestSummarizeFencedJSONIsRepaired(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```json\n" + `{"summary":"Short summary. With two sentences.","key_points":["Only one point."]}` + "\n```",
	}}
	g := New(llm, zap.NewNop())

	res, err := g.Summarize(context.Background(), "t", articleContent, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Short summary. With two sentences.", res.Summary)
	// Too few model key points: the summary's sentences top up to the
	// minimum, without duplicates.
	require.Len(t, res.KeyPoints, 3)
	assert.Equal(t, "Only one point.", res.KeyPoints[0])
	assert.Equal(t, "Short summary.", res.KeyPoints[1])
}

func TestSummarizeProseFallback(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"  A tidy three sentence summary. It covers the claims. It concludes.  "}}
	g := New(llm, zap.NewNop())

	res, err := g.Summarize(context.Background(), "t", articleContent, Options{})
	require.NoError(t, err)
	assert.Equal(t, "A tidy three sentence summary. It covers the claims. It concludes.", res.Summary)
	require.Len(t, res.KeyPoints, 3)
	assert.Equal(t, "A tidy three sentence summary.", res.KeyPoints[0])
}

func TestNormalizeKeyPointsCapsAtFive(t *testing.T) {
	points := []string{"p1.", "p2.", "p3.", "p4.", "p5.", "p6.", "p1."}
	out := normalizeKeyPoints("Summary text.", points)
	assert.Equal(t, []string{"p1.", "p2.", "p3.", "p4.", "p5."}, out)
}

func TestSummarizeEmptyOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"   "}}
	g := New(llm, zap.NewNop())

	_, err := g.Summarize(context.Background(), "t", articleContent, Options{})
	assert.Equal(t, apperrors.CodeCorruptArtifact, apperrors.CodeOf(err))
}

func TestSummarizeEmptyContent(t *testing.T) {
	g := New(&scriptedLLM{}, zap.NewNop())
	_, err := g.Summarize(context.Background(), "t", "", Options{})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}
