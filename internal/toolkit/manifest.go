package toolkit

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/furnish/internal/textkernel"
)

// Manifest keeps an in-memory pool and rewrites a metakernel after every
// change, so any SPICE program can furnish the same files with a single
// FURNSH of the manifest path.
type Manifest struct {
	path    string
	comment string

	mu   sync.Mutex
	pool *Recorder
}

// NewManifest creates a manifest writing to path. The file is written
// immediately so it exists even before the first load.
func NewManifest(path, comment string) (*Manifest, error) {
	m := &Manifest{path: path, comment: comment, pool: NewRecorder()}
	if err := m.flush(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the metakernel location.
func (m *Manifest) Path() string { return m.path }

// Load implements furnish.Toolkit. If the manifest cannot be rewritten
// the pool is left as it was.
func (m *Manifest) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pool.Load(path); err != nil {
		return err
	}
	if err := m.flush(); err != nil {
		if rerr := m.pool.remove(path); rerr != nil {
			return errors.Join(err, fmt.Errorf("roll back load of %s: %w", path, rerr))
		}
		return err
	}
	return nil
}

// Unload implements furnish.Toolkit. If the manifest cannot be rewritten
// the path goes back to its old position in the pool.
func (m *Manifest) Unload(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := slices.Index(m.pool.Loaded(), path)
	if err := m.pool.Unload(path); err != nil {
		return err
	}
	if err := m.flush(); err != nil {
		if rerr := m.pool.insert(at, path); rerr != nil {
			return errors.Join(err, fmt.Errorf("roll back unload of %s: %w", path, rerr))
		}
		return err
	}
	return nil
}

// Loaded returns the files in the manifest, in load order.
func (m *Manifest) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Loaded()
}

func (m *Manifest) flush() error {
	err := textkernel.WriteFile(m.path, textkernel.Meta{
		Comment: m.comment,
		Kernels: m.pool.Loaded(),
	})
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", m.path, err)
	}
	return nil
}
