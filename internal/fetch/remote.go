package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
)

// Remote opens a byte stream for a URL.
type Remote interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPRemote fetches http and https URLs.
type HTTPRemote struct {
	// Client defaults to http.DefaultClient.
	Client    *http.Client
	UserAgent string
}

// Open implements Remote. A 404 yields ErrNotFound; other non-2xx
// statuses yield a *StatusError.
func (h *HTTPRemote) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", rawURL, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// FileRemote reads file:// URLs and plain paths, which is how local
// mirrors of an archive are served.
type FileRemote struct{}

// Open implements Remote.
func (FileRemote) Open(_ context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	p := u.Path
	if u.Scheme == "" {
		p = rawURL
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", p, ErrNotFound)
	}
	return f, err
}

// Mux dispatches on the URL scheme. The empty scheme is a plain path.
type Mux map[string]Remote

// NewMux returns a mux serving http, https, file and plain paths.
func NewMux(client *http.Client, userAgent string) Mux {
	h := &HTTPRemote{Client: client, UserAgent: userAgent}
	return Mux{"http": h, "https": h, "file": FileRemote{}, "": FileRemote{}}
}

// Open implements Remote.
func (m Mux) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	r, ok := m[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q in %s: %w", u.Scheme, rawURL, ErrNoSource)
	}
	return r.Open(ctx, rawURL)
}
