// Package fetch makes kernel files available on local disk.
//
// A Cache looks for a file in the configured search roots, then in its
// download root, and only then fetches it from the file's remote source.
// Concurrent requests for the same name share a single lookup. Downloads
// are written to a temporary file beside the destination, checked against
// any known size and checksums, and renamed into place, so a partially
// written file is never visible under its final name.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/metrics"
)

// Defaults for New.
const (
	DefaultRetries        = 3
	DefaultTimeout        = 10 * time.Minute
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultConcurrency    = 4
)

// Roots are the directories a cache reads from and writes to.
type Roots struct {
	// Search directories are read-only and checked in order.
	Search []string
	// Downloads receives fetched files. It is also searched.
	Downloads string
}

// Cache implements EnsureLocal. The zero value is not usable; call New.
type Cache struct {
	roots  Roots
	remote Remote
	group  singleflight.Group

	retries        int
	timeout        time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	concurrency    int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetries sets how many times a failed download is retried.
func WithRetries(n int) Option {
	return func(c *Cache) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithTimeout bounds one EnsureLocal lookup, including all retries.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the first and the largest delay between retries.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Cache) {
		c.initialBackoff = initial
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithConcurrency limits parallel lookups in EnsureAll.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMetrics records lookups and downloads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache. A nil remote uses NewMux(nil, "").
func New(roots Roots, remote Remote, opts ...Option) *Cache {
	if remote == nil {
		remote = NewMux(nil, "")
	}
	c := &Cache{
		roots:          roots,
		remote:         remote,
		retries:        DefaultRetries,
		timeout:        DefaultTimeout,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		concurrency:    DefaultConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Roots returns the configured directories.
func (c *Cache) Roots() Roots { return c.roots }

type located struct {
	path   string
	source string
}

// EnsureLocal returns f with its local path set, fetching it if needed.
//
// A file whose local path already points at a regular file is returned
// without touching the search roots or the network. Concurrent calls for
// the same name perform one lookup and one download between them; a caller
// whose context ends stops waiting, but the shared lookup continues for the
// others until it completes or hits the cache timeout.
func (c *Cache) EnsureLocal(ctx context.Context, f *kernel.File) (*kernel.File, error) {
	if f.Exists() {
		c.metrics.RecordLookup(metrics.LookupHit)
		return f, nil
	}

	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(f.Name(), func() (any, error) {
		fctx, cancel := context.WithTimeout(flight, c.timeout)
		defer cancel()
		return c.locate(fctx, f)
	})

	select {
	case <-ctx.Done():
		return nil, &FetchError{Name: f.Name(), Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		loc := res.Val.(located)
		f.SetLocalPath(loc.path)
		if res.Shared {
			c.logger.Debug("shared kernel lookup", "file", f.Name(), "path", loc.path, "source", loc.source)
		}
		return f, nil
	}
}

// EnsureAll makes every file local, running up to the configured number of
// lookups at once. It returns the first error; files already made local
// keep their paths.
func (c *Cache) EnsureAll(ctx context.Context, files []*kernel.File) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, f := range files {
		g.Go(func() error {
			_, err := c.EnsureLocal(gctx, f)
			return err
		})
	}
	return g.Wait()
}

func (c *Cache) locate(ctx context.Context, f *kernel.File) (located, error) {
	name := f.Name()
	// The path may have been set since the caller checked.
	if f.Exists() {
		c.metrics.RecordLookup(metrics.LookupHit)
		return located{path: f.LocalPath(), source: metrics.LookupHit}, nil
	}

	meta, err := f.Metadata(ctx)
	if err != nil && !errors.Is(err, kernel.ErrUnknownKernel) {
		return located{}, &FetchError{Name: name, Err: err}
	}

	dirs := c.roots.Search
	if c.roots.Downloads != "" {
		dirs = append(dirs[:len(dirs):len(dirs)], c.roots.Downloads)
	}
	for _, dir := range dirs {
		if p, ok := lookIn(dir, meta.Subdir, name); ok {
			c.logger.Debug("kernel found locally", "file", name, "path", p)
			c.metrics.RecordLookup(metrics.LookupSearch)
			return located{path: p, source: metrics.LookupSearch}, nil
		}
	}

	if c.roots.Downloads == "" {
		return located{}, &FetchError{Name: name, Err: ErrNoDownloadDir}
	}
	url, err := c.sourceURL(ctx, f, meta)
	if err != nil {
		return located{}, &FetchError{Name: name, Err: err}
	}
	dest := filepath.Join(c.roots.Downloads, meta.Subdir, name)
	if err := c.fetch(ctx, name, url, dest, meta.Integrity); err != nil {
		return located{}, err
	}
	c.metrics.RecordLookup(metrics.LookupDownload)
	return located{path: dest, source: metrics.LookupDownload}, nil
}

func (c *Cache) sourceURL(ctx context.Context, f *kernel.File, meta kernel.Metadata) (string, error) {
	if src := f.Remote(); src != nil {
		u, err := src.URL(ctx, f.Name())
		if err != nil {
			return "", fmt.Errorf("remote url: %w", err)
		}
		if u != "" {
			return u, nil
		}
	}
	if meta.URL != "" {
		return meta.URL, nil
	}
	return "", ErrNoSource
}

func (c *Cache) fetch(ctx context.Context, name, url, dest string, want kernel.Integrity) error {
	start := time.Now()
	attempts := 0
	var written int64

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)

	c.logger.Info("downloading kernel", "file", name, "url", url)
	err := backoff.Retry(func() error {
		attempts++
		n, err := c.download(ctx, url, dest, want)
		if err != nil {
			c.logger.Warn("kernel download failed", "file", name, "attempt", attempts, "error", err)
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		written = n
		return nil
	}, policy)
	c.metrics.RecordFetch(time.Since(start), written, err)
	if err != nil {
		return &FetchError{Name: name, URL: url, Attempts: attempts, Err: err}
	}
	c.logger.Info("kernel downloaded", "file", name, "bytes", written, "attempts", attempts)
	return nil
}

// download copies url to dest through a temporary file in dest's directory.
func (c *Cache) download(ctx context.Context, url, dest string, want kernel.Integrity) (int64, error) {
	rc, err := c.remote.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	d := newDigest()
	n, err := io.Copy(io.MultiWriter(tmp, d), rc)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := d.verify(want); err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("rename into %s: %w", dest, err)
	}
	committed = true
	return n, nil
}

// lookIn checks dir/subdir/name, then dir/name.
func lookIn(dir, subdir, name string) (string, bool) {
	var paths []string
	if subdir != "" {
		paths = append(paths, filepath.Join(dir, subdir, name))
	}
	paths = append(paths, filepath.Join(dir, name))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
