package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStorage fetches objects from a static site, the way the browser
// dashboard pulls data/<category>/... next to its index page.
type HTTPStorage struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStorage creates a source rooted at baseURL. A zero timeout means
// requests are bounded only by the caller's context.
func NewHTTPStorage(baseURL string, timeout time.Duration) *HTTPStorage {
	return NewHTTPStorageWithClient(baseURL, &http.Client{Timeout: timeout})
}

// NewHTTPStorageWithClient creates a source with a pre-configured client.
func NewHTTPStorageWithClient(baseURL string, client *http.Client) *HTTPStorage {
	return &HTTPStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (h *HTTPStorage) url(objectPath string) string {
	return h.baseURL + "/" + strings.TrimLeft(objectPath, "/")
}

// Fetch downloads an object. 404 maps to ErrObjectNotFound, any other
// non-2xx status to ErrDownloadFailed.
func (h *HTTPStorage) Fetch(ctx context.Context, objectPath string) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet, objectPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, objectPath); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, nil
}

// Exists issues a HEAD request for the object.
func (h *HTTPStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	resp, err := h.do(ctx, http.MethodHead, objectPath)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := statusError(resp, objectPath); err != nil {
		return false, err
	}
	return true, nil
}

// ListObjects is not supported by static sites.
func (h *HTTPStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	return nil, fmt.Errorf("listing %q: static http source cannot list objects", prefix)
}

func (h *HTTPStorage) do(ctx context.Context, method, objectPath string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.url(objectPath), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return resp, nil
}

func statusError(resp *http.Response, objectPath string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s: status %d", ErrDownloadFailed, objectPath, resp.StatusCode)
	}
	return nil
}
