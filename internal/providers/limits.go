package providers

import "strings"

// Model token limits. Exact per-model tokenizers are not wired in; the
// words x 1.3 estimate is checked against these with a safety margin so a
// provider is never sent an input it will reject.
var modelTokenLimits = map[string]int{
	"gpt-4o":                 128000,
	"gpt-4o-mini":            128000,
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
	"claude-sonnet-4-20250514": 200000,
	"claude-3-5-haiku-20241022": 200000,
	"gemini-2.0-flash":       1048576,
	"gemini-embedding-001":   2048,
}

// prefixTokenLimits is the fallback table consulted when a model is not in
// the static map. First matching prefix wins.
var prefixTokenLimits = []struct {
	prefix string
	limit  int
}{
	{"gpt-4", 128000},
	{"gpt-", 16384},
	{"o1", 128000},
	{"o3", 128000},
	{"text-embedding-", 8191},
	{"claude-", 200000},
	{"gemini-embedding", 2048},
	{"gemini-", 1048576},
}

const defaultTokenLimit = 8192

// tokenSafetyMargin shrinks the advertised limit so the approximate token
// estimate errs on the side of rejection.
const tokenSafetyMargin = 0.9

// TokenLimitFor returns the usable token budget for a model.
func TokenLimitFor(model string) int {
	if limit, ok := modelTokenLimits[model]; ok {
		return int(float64(limit) * tokenSafetyMargin)
	}
	for _, p := range prefixTokenLimits {
		if strings.HasPrefix(model, p.prefix) {
			return int(float64(p.limit) * tokenSafetyMargin)
		}
	}
	limit := float64(defaultTokenLimit)
	return int(limit * tokenSafetyMargin)
}

// embeddingCostPer1K is the USD price per 1000 input tokens for cost
// estimation. Unknown models estimate as zero.
var embeddingCostPer1K = map[string]float64{
	"text-embedding-3-small": 0.00002,
	"text-embedding-3-large": 0.00013,
	"gemini-embedding-001":   0.0,
}

// EstimateEmbeddingCost returns the approximate USD cost of embedding texts
// with the given model.
func EstimateEmbeddingCost(model string, texts []string) float64 {
	price, ok := embeddingCostPer1K[model]
	if !ok || price == 0 {
		return 0
	}
	var tokens int
	for _, t := range texts {
		tokens += EstimateTokens(t)
	}
	return price * float64(tokens) / 1000.0
}
