package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cloo-solutions/policyrag/internal/domain"
)

// DefaultMaxDownloadBytes caps the size of a fetched document.
const DefaultMaxDownloadBytes = 50 << 20

// Fetcher downloads remote documents.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewFetcher creates a Fetcher with the given timeout. maxBytes <= 0
// selects DefaultMaxDownloadBytes.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Fetch downloads rawURL and returns its body and a file name suitable for
// type detection.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", domain.Wrapf(domain.ErrMissingRequiredField, nil, "documents must be an http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", domain.Wrapf(domain.ErrExtractionFailed, err, "download %s", u.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.Wrapf(domain.ErrExtractionFailed, nil, "download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", domain.Wrapf(domain.ErrExtractionFailed, err, "read download")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", domain.Wrapf(domain.ErrExtractionFailed, nil, "document exceeds %d bytes", f.maxBytes)
	}

	return data, path.Base(u.Path), nil
}
