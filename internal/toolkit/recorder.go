// Package toolkit provides furnish.Toolkit implementations: an in-memory
// recorder for tests and dry runs, a manifest that mirrors the loaded pool
// into a text metakernel, and a logging decorator.
package toolkit

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrAlreadyLoaded = errors.New("kernel already loaded")
	ErrNotLoaded     = errors.New("kernel not loaded")
)

// Call is one recorded toolkit operation.
type Call struct {
	Op   string
	Path string
	Err  error
}

func (c Call) String() string {
	if c.Err != nil {
		return fmt.Sprintf("%s %s !%v", c.Op, c.Path, c.Err)
	}
	return c.Op + " " + c.Path
}

// Recorder is an in-memory kernel pool. It rejects loading a path twice
// and unloading a path it does not hold, and can be told to fail specific
// calls.
type Recorder struct {
	mu     sync.Mutex
	pool   []string
	calls  []Call
	failOn map[string]error
}

// NewRecorder returns an empty pool.
func NewRecorder() *Recorder {
	return &Recorder{failOn: make(map[string]error)}
}

// FailOn makes the next op ("load" or "unload") on path return err.
func (r *Recorder) FailOn(op, path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[op+"\x00"+path] = err
}

// Load implements furnish.Toolkit.
func (r *Recorder) Load(path string) error {
	return r.do("load", path)
}

// Unload implements furnish.Toolkit.
func (r *Recorder) Unload(path string) error {
	return r.do("unload", path)
}

func (r *Recorder) do(op, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := op + "\x00" + path
	err, inject := r.failOn[key]
	if inject {
		delete(r.failOn, key)
	} else {
		i := slices.Index(r.pool, path)
		switch {
		case op == "load" && i >= 0:
			err = fmt.Errorf("%w: %s", ErrAlreadyLoaded, path)
		case op == "unload" && i < 0:
			err = fmt.Errorf("%w: %s", ErrNotLoaded, path)
		case op == "load":
			r.pool = append(r.pool, path)
		default:
			r.pool = slices.Delete(r.pool, i, i+1)
		}
	}
	r.calls = append(r.calls, Call{Op: op, Path: path, Err: err})
	return err
}

// insert puts path back at index i without recording a call.
func (r *Recorder) insert(i int, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.pool, path) {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, path)
	}
	i = min(max(i, 0), len(r.pool))
	r.pool = slices.Insert(r.pool, i, path)
	return nil
}

// remove drops path without recording a call.
func (r *Recorder) remove(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.pool, path)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotLoaded, path)
	}
	r.pool = slices.Delete(r.pool, i, i+1)
	return nil
}

// Loaded returns the pool in load order.
func (r *Recorder) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pool)
}

// Calls returns every call made so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Reset forgets recorded calls but keeps the pool.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
