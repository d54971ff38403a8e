package textproc

import (
	"regexp"
	"strings"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// ChunkingConfig controls how long texts are split before embedding.
type ChunkingConfig struct {
	ChunkSize    int // max chars per chunk before overlap
	ChunkOverlap int // trailing chars of chunk i-1 prepended to chunk i
	MinChunkSize int // chunks below this merge into their predecessor
	MaxChunkSize int // hard upper bound including overlap
}

// DefaultChunkingConfig returns the defaults used by the embedding path.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    1000,
		ChunkOverlap: 100,
		MinChunkSize: 50,
		MaxChunkSize: 0, // derived from ChunkSize+ChunkOverlap
	}
}

// Chunker splits text into ordered chunks, preferring paragraph boundaries,
// then sentence boundaries, then raw character windows. Base chunks are
// exact contiguous substrings of the input, so concatenating them (with the
// overlap prefix removed) reconstructs the input.
type Chunker struct {
	cfg ChunkingConfig
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// NewChunker creates a chunker, applying defaults for zero-valued fields.
func NewChunker(cfg ChunkingConfig) *Chunker {
	def := DefaultChunkingConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 2
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.MaxChunkSize < cfg.ChunkSize+cfg.ChunkOverlap {
		cfg.MaxChunkSize = cfg.ChunkSize + cfg.ChunkOverlap
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() ChunkingConfig { return c.cfg }

// Chunk splits text. A text no longer than ChunkSize is returned as a
// single chunk unchanged.
func (c *Chunker) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "cannot chunk empty text")
	}
	if len(text) <= c.cfg.ChunkSize {
		return []string{text}, nil
	}

	base := c.pack(splitParagraphs(text))
	base = c.mergeSmall(base)

	if c.cfg.ChunkOverlap == 0 {
		return base, nil
	}
	out := make([]string, len(base))
	out[0] = base[0]
	for i := 1; i < len(base); i++ {
		prev := base[i-1]
		ov := c.cfg.ChunkOverlap
		if ov > len(prev) {
			ov = len(prev)
		}
		out[i] = prev[len(prev)-ov:] + base[i]
	}
	return out, nil
}

// pack greedily joins adjacent units into chunks of at most ChunkSize.
// Units longer than ChunkSize are subdivided by the next strategy down
// rather than split mid-word.
func (c *Chunker) pack(units []string) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, u := range units {
		if len(u) > c.cfg.ChunkSize {
			flush()
			chunks = append(chunks, c.splitOversized(u)...)
			continue
		}
		if cur.Len()+len(u) > c.cfg.ChunkSize {
			flush()
		}
		cur.WriteString(u)
	}
	flush()
	return chunks
}

// splitOversized breaks a unit that exceeds ChunkSize, first at sentence
// boundaries and, for a single oversized sentence, at character windows.
func (c *Chunker) splitOversized(unit string) []string {
	sentences := splitSentences(unit)
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, s := range sentences {
		if len(s) > c.cfg.ChunkSize {
			flush()
			for start := 0; start < len(s); start += c.cfg.ChunkSize {
				end := start + c.cfg.ChunkSize
				if end > len(s) {
					end = len(s)
				}
				out = append(out, s[start:end])
			}
			continue
		}
		if cur.Len()+len(s) > c.cfg.ChunkSize {
			flush()
		}
		cur.WriteString(s)
	}
	flush()
	return out
}

// mergeSmall folds trailing chunks shorter than MinChunkSize into their
// predecessor, respecting MaxChunkSize.
func (c *Chunker) mergeSmall(chunks []string) []string {
	if len(chunks) < 2 {
		return chunks
	}
	out := chunks[:1]
	for _, ch := range chunks[1:] {
		last := out[len(out)-1]
		if len(ch) < c.cfg.MinChunkSize && len(last)+len(ch) <= c.cfg.MaxChunkSize {
			out[len(out)-1] = last + ch
			continue
		}
		out = append(out, ch)
	}
	return out
}

// splitParagraphs splits on blank lines, keeping the separator attached to
// the preceding paragraph so units concatenate back to the original text.
func splitParagraphs(text string) []string {
	var units []string
	rest := text
	for {
		idx := strings.Index(rest, "\n\n")
		if idx < 0 {
			if rest != "" {
				units = append(units, rest)
			}
			return units
		}
		end := idx + 2
		for end < len(rest) && rest[end] == '\n' {
			end++
		}
		units = append(units, rest[:end])
		rest = rest[end:]
	}
}

// splitSentences splits on terminal punctuation followed by whitespace,
// keeping the delimiter attached to the preceding sentence.
func splitSentences(text string) []string {
	locs := sentenceEndRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var units []string
	start := 0
	for _, loc := range locs {
		units = append(units, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		units = append(units, text[start:])
	}
	return units
}

// EstimateTokens approximates the token count of text as words x 1.3,
// matching the pre-flight estimate the providers use.
func EstimateTokens(text string) int {
	return len(strings.Fields(text)) * 13 / 10
}
