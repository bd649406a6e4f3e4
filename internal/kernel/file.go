package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"
)

// ErrUnknownKernel is returned when no metadata source knows a file name.
var ErrUnknownKernel = errors.New("unknown kernel")

// Metadata describes a kernel file for selection purposes.
// It is immutable once a file has been identified.
type Metadata struct {
	KType      KType
	Range      TimeRange
	IDs        []int
	Released   time.Time
	Version    Version
	Family     string
	URL        string
	Subdir     string
	Integrity  Integrity
	Properties map[string]string
}

// Integrity is optional content metadata checked after a download.
// Zero fields are not checked.
type Integrity struct {
	Size    int64
	SHA256  string
	Adler32 string
}

// Describer looks up metadata by file name. The bool is false when the
// name is not known to this describer.
type Describer interface {
	Describe(ctx context.Context, name string) (Metadata, bool, error)
}

// Describers queries each describer in order and returns the first hit.
type Describers []Describer

// Describe implements Describer.
func (ds Describers) Describe(ctx context.Context, name string) (Metadata, bool, error) {
	for _, d := range ds {
		m, ok, err := d.Describe(ctx, name)
		if err != nil {
			return Metadata{}, false, err
		}
		if ok {
			return m, true, nil
		}
	}
	return Metadata{}, false, nil
}

// RemoteSource yields the URL a file is fetched from.
type RemoteSource interface {
	URL(ctx context.Context, name string) (string, error)
}

// StaticURL is a RemoteSource with a fixed address.
type StaticURL string

// URL implements RemoteSource.
func (u StaticURL) URL(context.Context, string) (string, error) { return string(u), nil }

// URLFunc adapts a function to RemoteSource.
type URLFunc func(ctx context.Context, name string) (string, error)

// URL implements RemoteSource.
func (f URLFunc) URL(ctx context.Context, name string) (string, error) { return f(ctx, name) }

// File is a single kernel file, local or remote.
//
// Metadata is either supplied at construction or looked up lazily through a
// Describer on first use and cached on the instance. A failed lookup is not
// cached unless the describer reported the name as unknown, so a transient
// error (a cancelled context, a busy database) can be retried.
//
// The local path is set once a copy exists on disk. Exists re-checks the
// filesystem on every call.
type File struct {
	name      string
	describer Describer
	remote    RemoteSource

	metaMu  sync.Mutex
	meta    Metadata
	metaOK  bool
	metaErr error

	pathMu    sync.RWMutex
	localPath string
}

// FileOption configures a File.
type FileOption func(*File)

// WithLocalPath records a known on-disk location.
func WithLocalPath(p string) FileOption {
	return func(f *File) { f.localPath = p }
}

// WithRemote sets the source used when the file must be fetched.
func WithRemote(src RemoteSource) FileOption {
	return func(f *File) { f.remote = src }
}

// NewFile creates a file with explicit metadata. A missing KType is
// inferred from the name's extension.
func NewFile(name string, meta Metadata, opts ...FileOption) *File {
	if meta.KType == "" {
		meta.KType = KTypeOf(name)
	}
	f := &File{name: name, meta: meta, metaOK: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LookupFile creates a file whose metadata is fetched from d on first use.
func LookupFile(name string, d Describer, opts ...FileOption) *File {
	f := &File{name: name, describer: d}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the stable identifier of the file, its basename.
func (f *File) Name() string { return f.name }

// KType returns the metadata type if it is already known, otherwise the
// type implied by the extension. It never triggers a lookup.
func (f *File) KType() KType {
	f.metaMu.Lock()
	defer f.metaMu.Unlock()
	if f.metaOK && f.meta.KType != "" {
		return f.meta.KType
	}
	return KTypeOf(f.name)
}

// Metadata returns the file's metadata, looking it up on first use.
func (f *File) Metadata(ctx context.Context) (Metadata, error) {
	f.metaMu.Lock()
	defer f.metaMu.Unlock()
	if f.metaOK {
		return f.meta, nil
	}
	if f.metaErr != nil {
		return Metadata{}, f.metaErr
	}
	if f.describer == nil {
		f.meta = Metadata{KType: KTypeOf(f.name)}
		f.metaOK = true
		return f.meta, nil
	}
	m, ok, err := f.describer.Describe(ctx, f.name)
	if err != nil {
		return Metadata{}, fmt.Errorf("describe %s: %w", f.name, err)
	}
	if !ok {
		f.metaErr = fmt.Errorf("%w: %s", ErrUnknownKernel, f.name)
		return Metadata{}, f.metaErr
	}
	if m.KType == "" {
		m.KType = KTypeOf(f.name)
	}
	f.meta = m
	f.metaOK = true
	return f.meta, nil
}

// Remote returns the configured remote source, or nil.
func (f *File) Remote() RemoteSource { return f.remote }

// LocalPath returns the recorded local path, which may be empty.
func (f *File) LocalPath() string {
	f.pathMu.RLock()
	defer f.pathMu.RUnlock()
	return f.localPath
}

// SetLocalPath records where the file lives on disk. Callers must only set
// it after the file is in place.
func (f *File) SetLocalPath(p string) {
	f.pathMu.Lock()
	defer f.pathMu.Unlock()
	f.localPath = p
}

// Exists reports whether the local path is set and a regular file is there.
func (f *File) Exists() bool {
	p := f.LocalPath()
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Resolve implements Kernel. A file resolves to itself when its coverage
// intersects the query range and its ids overlap the query ids.
func (f *File) Resolve(ctx context.Context, q Query) ([]*File, error) {
	m, err := f.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	if !m.Range.Intersects(q.Range) || !m.overlapsIDs(q.IDs) {
		return nil, nil
	}
	return []*File{f}, nil
}

func (f *File) String() string { return f.name }

// hasIDs reports whether every id in want is defined by m.
func (m Metadata) hasIDs(want []int) bool {
	for _, id := range want {
		if !slices.Contains(m.IDs, id) {
			return false
		}
	}
	return true
}

// matchedIDs counts the ids in want that m defines.
func (m Metadata) matchedIDs(want []int) int {
	n := 0
	for _, id := range want {
		if slices.Contains(m.IDs, id) {
			n++
		}
	}
	return n
}
