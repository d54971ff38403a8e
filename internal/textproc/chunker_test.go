package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortTextUnchanged(t *testing.T) {
	c := NewChunker(DefaultChunkingConfig())
	chunks, err := c.Chunk("short text that fits in one chunk")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text that fits in one chunk", chunks[0])
}

func TestChunkEmpty(t *testing.T) {
	c := NewChunker(DefaultChunkingConfig())
	_, err := c.Chunk("   ")
	require.Error(t, err)
}

func buildParagraphs(n, approxLen int) string {
	sentence := "The quick brown fox jumps over the lazy dog and keeps running. "
	var b strings.Builder
	for i := 0; i < n; i++ {
		var p strings.Builder
		for p.Len() < approxLen {
			p.WriteString(sentence)
		}
		b.WriteString(strings.TrimSpace(p.String()))
		if i < n-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestChunkRoundTripNoOverlap(t *testing.T) {
	c := NewChunker(ChunkingConfig{ChunkSize: 300, ChunkOverlap: 0, MinChunkSize: 20})
	text := buildParagraphs(8, 200)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Base chunks are exact contiguous substrings partitioning the input.
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkRoundTripWithOverlap(t *testing.T) {
	overlap := 50
	c := NewChunker(ChunkingConfig{ChunkSize: 300, ChunkOverlap: overlap, MinChunkSize: 20})
	text := buildParagraphs(8, 200)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Dropping each chunk's overlap prefix reconstructs the input.
	var b strings.Builder
	b.WriteString(chunks[0])
	for _, ch := range chunks[1:] {
		require.GreaterOrEqual(t, len(ch), overlap)
		b.WriteString(ch[overlap:])
	}
	assert.Equal(t, text, b.String())
}

func TestChunkSizeBounds(t *testing.T) {
	cfg := ChunkingConfig{ChunkSize: 200, ChunkOverlap: 40, MinChunkSize: 30}
	c := NewChunker(cfg)
	text := buildParagraphs(10, 150)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch), c.Config().MaxChunkSize, "chunk %d exceeds max size", i)
	}
}

func TestChunkOversizedSentence(t *testing.T) {
	// A single sentence far beyond ChunkSize falls back to char windows.
	c := NewChunker(ChunkingConfig{ChunkSize: 100, ChunkOverlap: 0, MinChunkSize: 10})
	text := strings.Repeat("x", 450)
	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 100)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 13, EstimateTokens(strings.Repeat("word ", 10)))
}
