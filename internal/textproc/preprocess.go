// Package textproc provides text sanitation and chunking for the content
// pipeline and the embedding orchestrator.
package textproc

import (
	"html"
	"regexp"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// DefaultMinLength is the minimum accepted input length after cleaning.
const DefaultMinLength = 10

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"]+`)
	emailRe      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Placeholder tokens use square brackets, so both policies retain them.
	keepPunctRe  = regexp.MustCompile(`[^\p{L}\p{N}\s\[\].,!?;:'"()\-]`)
	stripPunctRe = regexp.MustCompile(`[^\p{L}\p{N}\s\[\]]`)
)

// PreprocessOptions controls the sanitation pipeline.
type PreprocessOptions struct {
	MinLength       int
	KeepPunctuation bool
}

// DefaultPreprocessOptions returns the options used by the pipeline.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{MinLength: DefaultMinLength, KeepPunctuation: true}
}

// Preprocess sanitizes raw text: HTML entities and tags are removed, URLs
// and email addresses are replaced with placeholder tokens, and whitespace
// collapses to single spaces. The result is stable under re-application.
func Preprocess(text string, opts PreprocessOptions) (string, error) {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}

	out := text
	// Unescape to a fixpoint so double-escaped entities cannot survive a
	// single pass and break idempotence.
	for i := 0; i < 4; i++ {
		unescaped := html.UnescapeString(out)
		if unescaped == out {
			break
		}
		out = unescaped
	}
	out = tagRe.ReplaceAllString(out, " ")
	out = urlRe.ReplaceAllString(out, "[URL]")
	out = emailRe.ReplaceAllString(out, "[EMAIL]")
	if opts.KeepPunctuation {
		out = keepPunctRe.ReplaceAllString(out, "")
	} else {
		out = stripPunctRe.ReplaceAllString(out, "")
	}
	out = whitespaceRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if len(out) < opts.MinLength {
		return "", apperrors.Newf(apperrors.CodeValidation,
			"text too short after cleaning: %d chars (minimum %d)", len(out), opts.MinLength)
	}
	return out, nil
}
