package scan

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher retrieves one artifact. It returns the declared content length in
// bytes (-1 when the transport does not declare one) and the body stream,
// before any of the body has been read. The caller owns closing the body.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (int64, io.ReadCloser, error)
}

type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, uri string) (int64, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request for [%s]: %w", uri, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch [%s]: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return 0, nil, fmt.Errorf("fetch of [%s] returned status %d", uri, resp.StatusCode)
	}
	return resp.ContentLength, resp.Body, nil
}
