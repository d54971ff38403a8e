// Package questiongen turns article content into summary and
// question/answer artifacts through the LLM orchestrator, with a JSON
// repair pass and a degraded extraction path when the model's output
// cannot be parsed.
package questiongen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
)

const (
	// maxContentChars caps the article text included in prompts. Content
	// beyond the cap adds cost without improving question quality.
	maxContentChars = 4000

	defaultQuestionCount = 5
	maxQuestionCount     = 20

	// degradedConfidence caps the score of questions produced by the
	// non-LLM extraction path so ranking always prefers parsed output.
	degradedConfidence = 0.3
)

// Question is one generated question/answer pair. KeywordAnchor is the
// word or short phrase from the article the question hinges on.
type Question struct {
	Question      string  `json:"question"`
	Answer        string  `json:"answer"`
	KeywordAnchor string  `json:"keyword_anchor"`
	Confidence    float64 `json:"confidence"`
}

// Result carries the generated questions plus provenance.
type Result struct {
	Questions []Question `json:"questions"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Degraded  bool       `json:"degraded,omitempty"`
}

// LLM is the completion capability the generator needs.
type LLM interface {
	Generate(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
}

// Options tunes a generation request.
type Options struct {
	Count        int
	Model        string
	Instructions string // optional persona or style guidance
	Temperature  float64
}

// Generator produces article artifacts via an LLM.
type Generator struct {
	llm    LLM
	logger *zap.Logger
}

// New creates a generator.
func New(llm LLM, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, logger: logger}
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	// Cut at a word boundary near the cap.
	cut := text[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > max/2 {
		cut = cut[:idx]
	}
	return cut
}

// systemPrompt layers format enforcement, role guidance and a literal
// output example. The example does more for format compliance than any
// amount of prose.
func systemPrompt(count int, instructions string) string {
	var b strings.Builder
	b.WriteString("You generate reader questions about web articles. ")
	b.WriteString("Respond with JSON only. No prose, no markdown fences, no commentary.\n\n")
	b.WriteString("You are a careful reading assistant: questions must be answerable from the article alone, ")
	b.WriteString("and answers must quote or closely paraphrase it.\n")
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n")
	}
	b.WriteString("For each question include keyword_anchor: the single word or short phrase ")
	b.WriteString("from the article the question hinges on.\n")
	fmt.Fprintf(&b, "\nProduce exactly %d questions. Output format, literally:\n", count)
	b.WriteString(`{"questions":[{"question":"What does the article say about X?","answer":"It says ...","keyword_anchor":"X","confidence":0.9}]}`)
	return b.String()
}

// GenerateQuestions produces question/answer pairs for article content.
// Unparseable model output gets one repair attempt and one regeneration
// before falling back to degraded extraction.
func (g *Generator) GenerateQuestions(ctx context.Context, title, content string, opts Options) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "content is empty")
	}
	count := opts.Count
	if count <= 0 {
		count = defaultQuestionCount
	}
	if count > maxQuestionCount {
		count = maxQuestionCount
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	body := truncate(content, maxContentChars)
	req := providers.ChatRequest{
		SystemPrompt: systemPrompt(count, opts.Instructions),
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, body),
		}},
		Model:       opts.Model,
		Temperature: temperature,
	}

	var lastResp *providers.ChatResponse
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.llm.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		lastResp = resp
		questions, err := parseQuestions(resp.Content, count)
		if err == nil {
			return &Result{Questions: questions, Provider: resp.Provider, Model: resp.Model}, nil
		}
		if apperrors.CodeOf(err) == apperrors.CodeCorruptArtifact {
			// The model answered in the right shape but with unusable
			// entries; regenerating will not fix an empty article.
			return nil, err
		}
		g.logger.Warn("Question output unparseable, regenerating",
			zap.Int("attempt", attempt+1),
			zap.String("provider", resp.Provider),
			zap.Error(err),
		)
	}

	// Degraded path: derive shallow questions from the content itself.
	questions := degradedQuestions(title, content, count)
	if len(questions) == 0 {
		return nil, apperrors.New(apperrors.CodeCorruptArtifact, "no usable questions could be produced")
	}
	g.logger.Warn("Serving degraded question extraction",
		zap.Int("questions", len(questions)),
	)
	res := &Result{Questions: questions, Degraded: true}
	if lastResp != nil {
		res.Provider = lastResp.Provider
		res.Model = lastResp.Model
	}
	return res, nil
}

type questionsEnvelope struct {
	Questions []Question `json:"questions"`
}

// parseQuestions decodes the model output, applying one repair pass that
// extracts the first JSON object substring when the raw decode fails.
func parseQuestions(raw string, limit int) ([]Question, error) {
	var env questionsEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		repaired, ok := extractJSON(raw)
		if !ok {
			return nil, apperrors.Wrap(apperrors.CodeInvalidRequest, "model output is not JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &env); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidRequest, "model output is not JSON after repair", err)
		}
	}
	if len(env.Questions) == 0 {
		return nil, apperrors.New(apperrors.CodeCorruptArtifact, "model returned no questions")
	}

	valid := make([]Question, 0, len(env.Questions))
	for _, q := range env.Questions {
		q.Question = strings.TrimSpace(q.Question)
		q.Answer = strings.TrimSpace(q.Answer)
		if q.Question == "" || q.Answer == "" {
			continue
		}
		q.KeywordAnchor = strings.TrimSpace(q.KeywordAnchor)
		if q.KeywordAnchor == "" {
			q.KeywordAnchor = anchorFor(q.Question)
		}
		if q.Confidence <= 0 || q.Confidence > 1 {
			q.Confidence = 0.5
		}
		valid = append(valid, q)
		if len(valid) == limit {
			break
		}
	}
	if len(valid) == 0 {
		return nil, apperrors.New(apperrors.CodeCorruptArtifact, "model returned only empty questions")
	}
	return valid, nil
}

// extractJSON pulls the first balanced {...} substring out of text that
// wraps its JSON in markdown fences or commentary.
func extractJSON(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// anchorFor derives a keyword anchor from question text when the model
// omitted one: the longest content word, stripped of punctuation.
func anchorFor(question string) string {
	var anchor string
	for _, w := range strings.Fields(question) {
		w = strings.Trim(w, `.,;:!?"'()`)
		if len(w) > len(anchor) {
			anchor = w
		}
	}
	return strings.ToLower(anchor)
}

// degradedQuestions builds shallow what-does-it-say questions from the
// leading paragraphs when the model cannot produce parseable output.
func degradedQuestions(title, content string, limit int) []Question {
	paragraphs := strings.Split(content, "\n\n")
	out := make([]Question, 0, limit)
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if len(p) < 80 {
			continue
		}
		topic := title
		if topic == "" {
			topic = "this article"
		}
		q := Question{
			Question:      fmt.Sprintf("What does %s say about the following point?", topic),
			Answer:        truncate(p, 300),
			KeywordAnchor: anchorFor(p),
			Confidence:    degradedConfidence,
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
