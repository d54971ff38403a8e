package questiongen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/providers"
)

const summarySystemPrompt = `You summarize web articles. Respond with JSON only. No prose, no
markdown fences, no commentary.

Write a concise summary of 3 to 5 sentences capturing the article's main
claims and conclusions, plus 3 to 5 key points, each a single short
sentence. Output format, literally:
{"summary":"The article argues ...","key_points":["First point.","Second point.","Third point."]}`

const (
	minKeyPoints = 3
	maxKeyPoints = 5
)

// SummaryResult carries a generated summary with its provenance.
type SummaryResult struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
}

// Summarize produces a short prose summary plus key points for article
// content. A model that answers in plain prose instead of JSON still
// yields a summary, with key points derived from its sentences.
func (g *Generator) Summarize(ctx context.Context, title, content string, opts Options) (*SummaryResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "content is empty")
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	req := providers.ChatRequest{
		SystemPrompt: summarySystemPrompt,
		Messages: []providers.Message{{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, truncate(content, maxContentChars)),
		}},
		Model:       opts.Model,
		Temperature: temperature,
	}
	resp, err := g.llm.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	summary, keyPoints := parseSummary(resp.Content)
	if summary == "" {
		return nil, apperrors.New(apperrors.CodeCorruptArtifact, "model returned an empty summary")
	}
	return &SummaryResult{
		Summary:   summary,
		KeyPoints: keyPoints,
		Provider:  resp.Provider,
		Model:     resp.Model,
	}, nil
}

type summaryEnvelope struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// parseSummary decodes the model output, with the same repair pass the
// question parser uses, and prose as the last resort.
func parseSummary(raw string) (string, []string) {
	var env summaryEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		if repaired, ok := extractJSON(raw); ok {
			_ = json.Unmarshal([]byte(repaired), &env)
		}
	}
	summary := strings.TrimSpace(env.Summary)
	points := env.KeyPoints
	if summary == "" {
		// Prose output: the whole reply is the summary.
		summary = strings.TrimSpace(raw)
		if strings.HasPrefix(summary, "{") {
			return "", nil
		}
	}
	return summary, normalizeKeyPoints(summary, points)
}

// normalizeKeyPoints trims and caps the model's key points, topping up
// from the summary's own sentences when fewer than the minimum arrived.
func normalizeKeyPoints(summary string, points []string) []string {
	out := make([]string, 0, maxKeyPoints)
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] || len(out) == maxKeyPoints {
			return
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	for _, p := range points {
		add(p)
	}
	if len(out) < minKeyPoints {
		for _, s := range splitSentences(summary) {
			add(s)
			if len(out) == minKeyPoints {
				break
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			s := strings.TrimSpace(text[start : i+1])
			if len(s) > 3 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); len(s) > 3 {
		out = append(out, s)
	}
	return out
}
