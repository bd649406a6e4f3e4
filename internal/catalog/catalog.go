package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/furnish/internal/kernel"
)

// Entry is one catalogued kernel file.
type Entry struct {
	Name string
	kernel.Metadata
}

// Catalog is an in-memory metadata source. It hands out one *kernel.File
// per name, so a local path recorded by the cache is seen by every later
// query.
//
// Thread-safety: all methods are safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	files map[string]*kernel.File
	names []string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{files: make(map[string]*kernel.File)}
}

// Add registers a file. Adding a name twice replaces its metadata.
func (c *Catalog) Add(e Entry) error {
	name := norm.NFC.String(strings.TrimSpace(e.Name))
	if name == "" {
		return fmt.Errorf("catalog entry has no name")
	}
	if !e.Range.Valid() {
		return fmt.Errorf("catalog entry %s: invalid range %s", name, e.Range)
	}
	var opts []kernel.FileOption
	if e.URL != "" {
		opts = append(opts, kernel.WithRemote(kernel.StaticURL(e.URL)))
	}
	f := kernel.NewFile(name, e.Metadata, opts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[name]; !ok {
		c.names = append(c.names, name)
	}
	c.files[name] = f
	return nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// File returns the shared file instance for name.
func (c *Catalog) File(name string) (*kernel.File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[norm.NFC.String(name)]
	return f, ok
}

// Entries returns every entry sorted by name.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.names))
	for _, name := range c.names {
		m, _ := c.files[name].Metadata(context.Background())
		out = append(out, Entry{Name: name, Metadata: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CandidatesFor implements kernel.Source. Files declaring no ids match any
// id query.
func (c *Catalog) CandidatesFor(ctx context.Context, ktype kernel.KType, ids []int) ([]*kernel.File, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*kernel.File
	for _, name := range c.names {
		f := c.files[name]
		m, err := f.Metadata(ctx)
		if err != nil {
			return nil, err
		}
		if ktype != "" && m.KType != ktype {
			continue
		}
		if !definesAny(m.IDs, ids) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Describe implements kernel.Describer.
func (c *Catalog) Describe(ctx context.Context, name string) (kernel.Metadata, bool, error) {
	f, ok := c.File(name)
	if !ok {
		return kernel.Metadata{}, false, nil
	}
	m, err := f.Metadata(ctx)
	if err != nil {
		return kernel.Metadata{}, false, err
	}
	return m, true, nil
}

func definesAny(have, want []int) bool {
	if len(want) == 0 || len(have) == 0 {
		return true
	}
	for _, id := range want {
		if slices.Contains(have, id) {
			return true
		}
	}
	return false
}

// document is the YAML catalog file format.
type document struct {
	// Source is the base URL that entry names are appended to when an
	// entry has no url of its own.
	Source string `yaml:"source"`

	// Family and Subdir apply to every entry that does not set them.
	Family string `yaml:"family"`
	Subdir string `yaml:"subdir"`

	Kernels []entryDoc `yaml:"kernels"`
}

type entryDoc struct {
	Name       string            `yaml:"name"`
	KType      string            `yaml:"ktype,omitempty"`
	Start      string            `yaml:"start,omitempty"`
	End        string            `yaml:"end,omitempty"`
	IDs        []int             `yaml:"ids,omitempty"`
	Released   string            `yaml:"released,omitempty"`
	Version    kernel.Version    `yaml:"version,omitempty"`
	Family     string            `yaml:"family,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	Subdir     string            `yaml:"subdir,omitempty"`
	Size       int64             `yaml:"size,omitempty"`
	SHA256     string            `yaml:"sha256,omitempty"`
	Adler32    string            `yaml:"adler32,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Load reads a YAML catalog document into c. Unknown fields are errors.
func (c *Catalog) Load(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode catalog: %w", err)
	}
	for i, k := range doc.Kernels {
		e, err := k.entry(doc)
		if err != nil {
			return fmt.Errorf("kernels[%d]: %w", i, err)
		}
		if err := c.Add(e); err != nil {
			return fmt.Errorf("kernels[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadFiles builds a catalog from YAML files, in order. Later files
// override earlier entries of the same name.
func LoadFiles(paths ...string) (*Catalog, error) {
	c := New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		err = c.Load(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return c, nil
}

func (d entryDoc) entry(doc document) (Entry, error) {
	if d.Name == "" {
		return Entry{}, fmt.Errorf("name is required")
	}
	e := Entry{Name: d.Name}
	m := &e.Metadata

	if d.KType != "" {
		k, err := kernel.ParseKType(d.KType)
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w", d.Name, err)
		}
		m.KType = k
	} else {
		m.KType = kernel.KTypeOf(d.Name)
	}

	var err error
	if m.Range.Start, err = kernel.ParseTime(d.Start); err != nil {
		return Entry{}, fmt.Errorf("%s: start: %w", d.Name, err)
	}
	if m.Range.End, err = kernel.ParseTime(d.End); err != nil {
		return Entry{}, fmt.Errorf("%s: end: %w", d.Name, err)
	}
	if m.Released, err = kernel.ParseTime(d.Released); err != nil {
		return Entry{}, fmt.Errorf("%s: released: %w", d.Name, err)
	}

	m.IDs = d.IDs
	m.Version = d.Version
	m.Family = firstNonEmpty(d.Family, doc.Family)
	m.Subdir = firstNonEmpty(d.Subdir, doc.Subdir)
	m.URL = d.URL
	if m.URL == "" && doc.Source != "" {
		m.URL = strings.TrimSuffix(doc.Source, "/") + "/" + d.Name
	}
	m.Integrity = kernel.Integrity{Size: d.Size, SHA256: strings.ToLower(d.SHA256), Adler32: strings.ToLower(d.Adler32)}
	m.Properties = d.Properties
	return e, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
