// Package transport fetches source documents over HTTP.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/version"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Client issues plain GET requests. It does not retry.
type Client struct {
	http      *http.Client
	userAgent string
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration // whole-request timeout, 0 = none
	UserAgent string
}

// New creates a Client.
func New(opts Options) *Client {
	ua := opts.UserAgent
	if ua == "" {
		ua = "urnharvest/" + version.Version
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: ua,
	}
}

// Fetch returns the body of url. The caller must close it.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml;q=0.9, */*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
