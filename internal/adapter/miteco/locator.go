package miteco

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/couchcryptid/reservoir-etl/internal/observability"
)

// userAgent identifies the scraper to the ministry's web servers.
const userAgent = "Mozilla/5.0 (compatible; ReservoirETL/1.0)"

// Locator discovers the current bulletin archive URL from the landing page.
type Locator struct {
	landingURL  string
	fallbackURL string
	pattern     string
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewLocator creates a Locator. pattern is the substring the archive link must contain.
func NewLocator(landingURL, fallbackURL, pattern string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Locator {
	return &Locator{
		landingURL:  landingURL,
		fallbackURL: fallbackURL,
		pattern:     pattern,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		metrics:     metrics,
	}
}

// Locate returns the archive URL linked from the landing page. Any failure
// is logged and answered with the fallback URL; Locate never errors.
func (l *Locator) Locate(ctx context.Context) string {
	found, err := l.scan(ctx)
	if err != nil {
		l.logger.Warn("archive url detection failed, using fallback",
			"landing_url", l.landingURL,
			"fallback_url", l.fallbackURL,
			"error", err,
		)
		l.metrics.LocatorFallbacks.Inc()
		return l.fallbackURL
	}
	l.logger.Info("archive url detected", "url", found)
	return found
}

func (l *Locator) scan(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.landingURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request landing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("landing page status %d", resp.StatusCode)
	}

	base, err := url.Parse(l.landingURL)
	if err != nil {
		return "", fmt.Errorf("parse landing url: %w", err)
	}

	href, err := findArchiveLink(resp.Body, l.pattern)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse archive link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// findArchiveLink returns the first anchor href containing pattern and
// ending in .zip.
func findArchiveLink(r io.Reader, pattern string) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("parse landing page: %w", err)
			}
			return "", fmt.Errorf("no link matching %q found", pattern)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" && isArchiveLink(string(val), pattern) {
					return strings.TrimSpace(string(val)), nil
				}
				if !more {
					break
				}
			}
		}
	}
}

func isArchiveLink(href, pattern string) bool {
	href = strings.TrimSpace(href)
	path := href
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.Contains(href, pattern) && strings.HasSuffix(strings.ToLower(path), ".zip")
}
