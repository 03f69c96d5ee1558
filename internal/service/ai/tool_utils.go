package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	// WebSearchRateLimit is the number of web_search calls one chat session
	// may make per WebSearchRateWindow.
	WebSearchRateLimit   = 5
	WebSearchRateWindow  = time.Minute
	WebSearchHTTPTimeout = 10 * time.Second

	// PageBodyLimit caps the bytes read from a fetched page.
	PageBodyLimit = 512 << 10
	// PageTextLimit caps the runes of page text handed back to the model.
	PageTextLimit = 8000
	truncatedMark = "\n[truncated]"
)

type toolSessionContextKey struct{}

// WithToolSession tags ctx with the chat session tools run for.
func WithToolSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, toolSessionContextKey{}, sessionID)
}

func ToolSessionFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(toolSessionContextKey{}).(string)
	return sessionID, ok && sessionID != ""
}

// sessionLimiter budgets tool calls per chat session over a sliding window.
// Calls outside any session share one budget.
type sessionLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string][]time.Time
}

func newSessionLimiter(limit int, window time.Duration) *sessionLimiter {
	return &sessionLimiter{limit: limit, window: window, now: time.Now, calls: make(map[string][]time.Time)}
}

// allow records a call for the session in ctx. When the budget is spent it
// reports how long until the oldest call leaves the window.
func (l *sessionLimiter) allow(ctx context.Context) (time.Duration, bool) {
	sessionID, _ := ToolSessionFromContext(ctx)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.calls[sessionID][:0]
	for _, at := range l.calls[sessionID] {
		if now.Sub(at) < l.window {
			recent = append(recent, at)
		}
	}
	if len(recent) >= l.limit {
		l.calls[sessionID] = recent
		return recent[0].Add(l.window).Sub(now), false
	}
	l.calls[sessionID] = append(recent, now)
	return 0, true
}

// pageFetcher reads a URL the model passed to web_search and turns it into
// plain text the model can quote.
type pageFetcher struct {
	client *http.Client
}

func newPageFetcher(client *http.Client) *pageFetcher {
	if client == nil {
		client = &http.Client{Timeout: WebSearchHTTPTimeout}
	}
	return &pageFetcher{client: client}
}

func (f *pageFetcher) fetch(ctx context.Context, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "NurAI/1.0 (+web_search)")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: %s", u.Host, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, PageBodyLimit))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u.Host, err)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		text, err = htmlText(string(body))
		if err != nil {
			return "", err
		}
	case mediaType == "" || strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		text = strings.ToValidUTF8(string(body), "")
	default:
		return "", fmt.Errorf("cannot read %s content", mediaType)
	}
	return clipText(text, PageTextLimit), nil
}

// htmlText keeps the title and the visible body text of a page.
func htmlText(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, svg").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if title == "" {
		return body, nil
	}
	return title + "\n\n" + body, nil
}

// clipText cuts s to at most limit runes and marks the cut.
func clipText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + truncatedMark
		}
		n++
	}
	return s
}

var errRateLimited = errors.New("web search rate limit exceeded")

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
