package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"html tags stripped",
			"<p>Hello <b>world</b>, this is fine.</p>",
			"Hello world, this is fine.",
		},
		{
			"entities unescaped",
			"Ben &amp; Jerry&#39;s is a company.",
			"Ben Jerry's is a company.",
		},
		{
			"urls replaced",
			"Read more at https://example.com/post?id=1 for details.",
			"Read more at [URL] for details.",
		},
		{
			"emails replaced",
			"Contact alice@example.com for access.",
			"Contact [EMAIL] for access.",
		},
		{
			"whitespace collapsed",
			"too   many\n\n\t spaces here honestly",
			"too many spaces here honestly",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Preprocess(tt.input, DefaultPreprocessOptions())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreprocessIdempotent(t *testing.T) {
	inputs := []string{
		"<div>Some &amp;amp; double-escaped &lt;content&gt; with https://a.example/x and bob@example.org</div>",
		"Plain text that is already clean, with punctuation!",
		"Unicode café naïve 中文 content stays readable.",
	}
	for _, input := range inputs {
		once, err := Preprocess(input, DefaultPreprocessOptions())
		require.NoError(t, err)
		twice, err := Preprocess(once, DefaultPreprocessOptions())
		require.NoError(t, err)
		assert.Equal(t, once, twice, "preprocessing must be stable under re-application")
	}
}

func TestPreprocessStripPunctuation(t *testing.T) {
	got, err := Preprocess("Hello, world! Visit https://x.example now.", PreprocessOptions{
		MinLength:       5,
		KeepPunctuation: false,
	})
	require.NoError(t, err)
	assert.NotContains(t, got, ",")
	assert.NotContains(t, got, "!")
	// Placeholder brackets survive the strict policy.
	assert.Contains(t, got, "[URL]")
}

func TestPreprocessTooShort(t *testing.T) {
	_, err := Preprocess("<p>hi</p>", DefaultPreprocessOptions())
	require.Error(t, err)
}

func TestPreprocessLongInput(t *testing.T) {
	input := strings.Repeat("A sensible sentence. ", 500)
	got, err := Preprocess(input, DefaultPreprocessOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}
