package miteco

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// Fetcher downloads the bulletin archive into memory.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher with a hard timeout covering connection and
// body read. maxBytes caps the archive size.
func NewFetcher(timeout time.Duration, maxBytes int64, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Fetch streams the archive at url into memory. Failures are returned as
// *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	f.logger.Info("downloading archive", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 && resp.ContentLength <= f.maxBytes {
		buf.Grow(int(resp.ContentLength))
	}
	// Read one byte past the cap so an oversized body is detectable.
	n, err := buf.ReadFrom(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if n > f.maxBytes {
		return nil, &domain.FetchError{URL: url, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("archive exceeds %d bytes", f.maxBytes)}
	}

	f.logger.Info("archive downloaded",
		"url", url,
		"bytes", n,
		"duration", time.Since(start),
	)
	return buf.Bytes(), nil
}
