package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Post", "https://example.com/Post"},
		{"drops default https port", "https://example.com:443/post", "https://example.com/post"},
		{"drops default http port", "http://example.com:80/post", "http://example.com/post"},
		{"keeps explicit port", "https://example.com:8443/post", "https://example.com:8443/post"},
		{"drops fragment", "https://example.com/post#section-2", "https://example.com/post"},
		{"strips tracking params", "https://example.com/post?utm_source=tw&utm_medium=social&id=7", "https://example.com/post?id=7"},
		{"strips fbclid and ref", "https://example.com/post?fbclid=abc&ref=hn", "https://example.com/post"},
		{"trims trailing slash", "https://example.com/post/", "https://example.com/post"},
		{"trims surrounding space", "  https://example.com/post  ", "https://example.com/post"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/x", "example.com/post", "https://", "not a url at all\x7f"} {
		_, err := NormalizeURL(raw)
		require.Error(t, err, raw)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err), raw)
	}
}

func TestArticleIDStable(t *testing.T) {
	a, err := NormalizeURL("https://Example.com/post/?utm_source=x")
	require.NoError(t, err)
	b, err := NormalizeURL("https://example.com:443/post#top")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, ArticleID(a), ArticleID(b))
	assert.Len(t, ArticleID(a), 64)
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "example.com", Domain("https://www.example.com/post"))
	assert.Equal(t, "blog.example.com", Domain("https://blog.example.com/post"))
}

const articleHTML = `<!DOCTYPE html>
<html lang="en-US">
<head>
  <title>Fallback Title</title>
  <meta property="og:title" content="The Real Title">
</head>
<body>
  <nav>Home | About | Archive</nav>
  <article>
    <h1>The Real Title</h1>
    <p>Structured concurrency keeps goroutine lifetimes tied to a scope so
    that nothing leaks past the function that started it. This article walks
    through the pattern and where it breaks down in practice.</p>
    <p>The second half covers cancellation propagation and why errgroup is
    usually the right default for fan-out work in servers.</p>
  </article>
  <footer>Copyright notice that must not leak into content</footer>
  <script>analytics()</script>
</body>
</html>`

func TestFetchExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "pagesage/")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	c := New(Config{}, zap.NewNop())
	page, err := c.Fetch(context.Background(), srv.URL+"/post")
	require.NoError(t, err)

	assert.Equal(t, "The Real Title", page.Title)
	assert.Equal(t, "en", page.Language)
	assert.Contains(t, page.Content, "Structured concurrency")
	assert.Contains(t, page.Content, "errgroup")
	assert.NotContains(t, page.Content, "Home | About")
	assert.NotContains(t, page.Content, "Copyright notice")
	assert.NotContains(t, page.Content, "analytics()")
	assert.Equal(t, ArticleID(page.URL), page.ID)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	c := New(Config{}, zap.NewNop())
	page, err := c.Fetch(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.NotEmpty(t, page.Content)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Config{}, zap.NewNop())
	_, err := c.Fetch(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRejectsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>too short</p></body></html>"))
	}))
	defer srv.Close()

	c := New(Config{}, zap.NewNop())
	_, err := c.Fetch(context.Background(), srv.URL+"/thin")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<html><body><article>"))
		for i := 0; i < 100; i++ {
			w.Write([]byte("padding sentence to push the page over the configured cap. "))
		}
		w.Write([]byte("</article></body></html>"))
	}))
	defer srv.Close()

	c := New(Config{MaxBodyBytes: 1024}, zap.NewNop())
	_, err := c.Fetch(context.Background(), srv.URL+"/huge")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInputTooLarge, apperrors.CodeOf(err))
	// Not a transient condition, so no retry.
	assert.Equal(t, int32(1), calls.Load())
}

func TestLangCode(t *testing.T) {
	assert.Equal(t, "en", langCode("en-US"))
	assert.Equal(t, "de", langCode(" DE "))
	assert.Equal(t, "zh", langCode("zh_CN"))
	assert.Equal(t, "", langCode(""))
	assert.Equal(t, "", langCode("x"))
}
