package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Fetcher copies the resource named by uri into dst
type Fetcher interface {
	Fetch(ctx context.Context, uri string, dst io.Writer) error
}

// HTTPFetcher fetches icons over http and https
type HTTPFetcher struct {
	Client  *http.Client
	MaxSize int64 // Bytes; zero means no limit
}

// NewHTTPFetcher returns a fetcher with a bounded client timeout
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:  &http.Client{Timeout: timeout},
		MaxSize: 16 << 20,
	}
}

// Fetch performs a GET on uri and streams the body into dst
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string, dst io.Writer) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return errors.Wrapf(err, "can't build request for %s", uri)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "can't fetch %s", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", uri, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.MaxSize > 0 {
		body = io.LimitReader(resp.Body, f.MaxSize+1)
	}
	n, err := io.Copy(dst, body)
	if err != nil {
		return errors.Wrapf(err, "can't read %s", uri)
	}
	if f.MaxSize > 0 && n > f.MaxSize {
		return fmt.Errorf("fetch %s: body exceeds %d bytes", uri, f.MaxSize)
	}
	return nil
}
