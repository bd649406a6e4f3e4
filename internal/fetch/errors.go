package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the remote has no object at the URL. It is not
	// retried.
	ErrNotFound = errors.New("remote object not found")

	// ErrIntegrity means downloaded content did not match the expected
	// size or checksum. It is not retried.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrNoSource means a file has neither a remote source nor a URL in
	// its metadata.
	ErrNoSource = errors.New("no remote source")

	// ErrNoDownloadDir means the cache has nowhere to write fetched files.
	ErrNoDownloadDir = errors.New("no download directory configured")
)

// FetchError reports a file that could not be made local.
// The partial download, if any, has been removed.
type FetchError struct {
	Name     string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetch %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("fetch %s from %s failed after %d attempt(s): %v", e.Name, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError returns true if err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// permanent reports errors that retrying cannot fix. A remote serving the
// wrong bytes serves them again.
func permanent(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoSource) || errors.Is(err, ErrIntegrity) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 &&
			se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests
	}
	return false
}
