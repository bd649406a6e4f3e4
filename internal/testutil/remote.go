package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/furnish/internal/fetch"
)

// ErrTransient is returned by FakeRemote for injected failures.
var ErrTransient = errors.New("transient remote failure")

// FakeRemote is an in-memory fetch.Remote that counts every Open.
//
// Unknown URLs return fetch.ErrNotFound. FailNext injects transient
// failures, and Block holds every Open until released so tests can pile up
// concurrent callers.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeRemote struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]int
	opens    map[string]int
	gate     chan struct{}
	started  chan string
}

// NewFakeRemote creates an empty remote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		objects:  make(map[string][]byte),
		failures: make(map[string]int),
		opens:    make(map[string]int),
		started:  make(chan string, 64),
	}
}

// Put stores content under url.
func (r *FakeRemote) Put(url string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[url] = data
}

// FailNext makes the next n opens of url fail with ErrTransient.
func (r *FakeRemote) FailNext(url string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[url] = n
}

// Block holds every subsequent Open until the returned func is called.
func (r *FakeRemote) Block() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.gate = nil
			r.mu.Unlock()
			close(gate)
		})
	}
}

// Started receives the URL of every Open as it begins.
func (r *FakeRemote) Started() <-chan string { return r.started }

// Opens returns how many times url was opened.
func (r *FakeRemote) Opens(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[url]
}

// TotalOpens returns how many times any URL was opened.
func (r *FakeRemote) TotalOpens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.opens {
		n += c
	}
	return n
}

// Open implements fetch.Remote.
func (r *FakeRemote) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	r.mu.Lock()
	r.opens[url]++
	gate := r.gate
	r.mu.Unlock()

	select {
	case r.started <- url:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures[url] > 0 {
		r.failures[url]--
		return nil, fmt.Errorf("GET %s: %w", url, ErrTransient)
	}
	data, ok := r.objects[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: %w", url, fetch.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
