// Package crawler fetches web articles and extracts their readable
// content, title and language for the ingestion pipeline.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pagesage/pagesage/internal/apperrors"
	"github.com/pagesage/pagesage/internal/circuitbreaker"
	"github.com/pagesage/pagesage/internal/providers"
)

const (
	defaultTimeout = 20 * time.Second
	// defaultMaxBodyBytes caps the response body read; pages past the cap
	// are rejected, not truncated.
	defaultMaxBodyBytes = 5 << 20

	userAgent = "pagesage/1.0 (+https://github.com/pagesage/pagesage)"
)

// Config tunes a crawler. Zero values take the defaults.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Page is an extracted article.
type Page struct {
	ID       string // sha256 of the normalized URL
	URL      string // normalized
	Domain   string
	Title    string
	Content  string
	Language string
}

// Crawler fetches and extracts pages.
type Crawler struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// New creates a crawler with its own HTTP client.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Crawler{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBodyBytes,
		logger:   logger,
	}
}

// NormalizeURL canonicalizes an article URL: lowercased scheme and host,
// default ports and fragments dropped, tracking parameters removed,
// trailing slash trimmed. Two spellings of the same page normalize to
// the same string and therefore the same article id.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeValidation, "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperrors.Newf(apperrors.CodeValidation, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", apperrors.New(apperrors.CodeValidation, "url has no host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	} else {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid" || key == "ref" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// ArticleID derives the content-address id for a normalized URL.
func ArticleID(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Domain extracts the registrable host from a normalized URL.
func Domain(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	return strings.TrimPrefix(host, "www.")
}

// Fetch downloads and extracts an article. Transient failures are
// retried with backoff before the error is surfaced.
func (c *Crawler) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	var body []byte
	retry := circuitbreaker.DefaultRetryConfig(circuitbreaker.RetryableCodes(
		apperrors.CodeNetwork,
		apperrors.CodeTimeout,
		apperrors.CodeServiceUnavailable,
	))
	err = circuitbreaker.Retry(ctx, retry, func() error {
		var fetchErr error
		body, fetchErr = c.get(ctx, normalized)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	page, err := extract(normalized, body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Fetched article",
		zap.String("url", normalized),
		zap.String("domain", page.Domain),
		zap.Int("content_chars", len(page.Content)),
	)
	return page, nil
}

func (c *Crawler) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "building request failed", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, providers.MapProviderError("crawler", 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, apperrors.Newf(apperrors.CodeNotFound, "page returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.CodeServiceUnavailable, "page throttled the crawler")
	case resp.StatusCode >= 500:
		return nil, apperrors.Newf(apperrors.CodeNetwork, "page returned %d", resp.StatusCode)
	default:
		return nil, apperrors.Newf(apperrors.CodeValidation, "page returned %d", resp.StatusCode)
	}

	if resp.ContentLength > c.maxBytes {
		return nil, apperrors.Newf(apperrors.CodeInputTooLarge,
			"page body is %d bytes, over the %d byte cap", resp.ContentLength, c.maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNetwork, "reading response body failed", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, apperrors.Newf(apperrors.CodeInputTooLarge,
			"page body exceeds the %d byte cap", c.maxBytes)
	}
	return body, nil
}

// mainContentSelectors are tried in order; the first match with enough
// text wins before falling back to the whole body.
var mainContentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".post-content",
	".article-content",
	".entry-content",
	"#content",
}

func extract(normalizedURL string, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "parsing html failed", err)
	}

	doc.Find("script, style, nav, header, footer, aside, noscript, iframe, form").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		title = strings.TrimSpace(og)
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var content string
	for _, sel := range mainContentSelectors {
		text := collapseWhitespace(doc.Find(sel).First().Text())
		if len(text) >= 200 {
			content = text
			break
		}
	}
	if content == "" {
		content = collapseWhitespace(doc.Find("body").Text())
	}
	if len(content) < 100 {
		return nil, apperrors.New(apperrors.CodeValidation, "page has no extractable article content")
	}

	return &Page{
		ID:       ArticleID(normalizedURL),
		URL:      normalizedURL,
		Domain:   Domain(normalizedURL),
		Title:    title,
		Content:  content,
		Language: detectLanguage(doc),
	}, nil
}

func detectLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		if code := langCode(lang); code != "" {
			return code
		}
	}
	if lang, ok := doc.Find(`meta[http-equiv="content-language"]`).Attr("content"); ok {
		if code := langCode(lang); code != "" {
			return code
		}
	}
	return "en"
}

func langCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return ""
	}
	if idx := strings.IndexAny(lang, "-_,"); idx > 0 {
		lang = lang[:idx]
	}
	if len(lang) < 2 || len(lang) > 3 {
		return ""
	}
	return lang
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n\n")
}
