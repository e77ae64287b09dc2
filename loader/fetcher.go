package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher downloads the raw bytes behind a URL. Retry, backoff, auth and
// per-request timeouts belong to the caller's HTTP client layer; any
// failure (including a timeout) surfaces here as an opaque error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPFetcher is the default Fetcher: a single GET over a shared client.
type HTTPFetcher struct {
	// Client used for requests. Nil => http.DefaultClient.
	Client *http.Client
	// UserAgent sent with every request. Empty => "thumbcache/1.0".
	UserAgent string
}

func (h *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("loader: build request: %w", err)
	}
	ua := h.UserAgent
	if ua == "" {
		ua = "thumbcache/1.0"
	}
	req.Header.Set("User-Agent", ua)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loader: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loader: fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("loader: read body of %s: %w", url, err)
	}
	return data, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
