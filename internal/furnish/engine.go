package furnish

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/metrics"
	"github.com/roach88/furnish/internal/recipe"
)

// Toolkit is the external kernel pool. Paths are local file paths.
type Toolkit interface {
	Load(path string) error
	Unload(path string) error
}

// Ensurer makes a file available on local disk. *fetch.Cache implements it.
type Ensurer interface {
	EnsureLocal(ctx context.Context, f *kernel.File) (*kernel.File, error)
}

// Journal persists transitions. *store.Store implements it.
type Journal interface {
	RecordTransition(ctx context.Context, t *Transition) error
}

// DefaultConcurrency bounds parallel EnsureLocal calls per transition.
const DefaultConcurrency = 4

// Engine drives recipes into a toolkit. See the package documentation for
// the transition algorithm and locking.
type Engine struct {
	registry *recipe.Registry
	ensurer  Ensurer
	toolkit  Toolkit

	clock       *Clock
	ids         IDGenerator
	journal     Journal
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	concurrency int

	names keyedMutex

	// tkMu serializes toolkit calls and guards the fields below.
	tkMu   sync.Mutex
	ledger []loaded
	owner  string
	states map[string]LoadedState
}

// loaded is a ledger entry: a file and the path it was loaded from.
type loaded struct {
	file *kernel.File
	path string
}

func (l loaded) name() string { return l.file.Name() }

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the sequence clock, for example one resumed from the
// journal.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets how transition ids are made.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithJournal records every transition.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics records toolkit calls, transitions and resolve latency.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithNow sets the wall clock used for transition timestamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency bounds parallel EnsureLocal calls.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an engine over a registry, an ensurer and a toolkit.
func New(reg *recipe.Registry, ens Ensurer, tk Toolkit, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:    reg,
		ensurer:     ens,
		toolkit:     tk,
		clock:       NewClock(),
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
		states:      make(map[string]LoadedState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Used returns the files the recipe would load for q, without fetching or
// touching the toolkit. An empty name means the selected recipe.
func (e *Engine) Used(ctx context.Context, name string, q kernel.Query) ([]*kernel.File, error) {
	rec, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, rec, q)
}

func (e *Engine) resolve(ctx context.Context, rec *recipe.Recipe, q kernel.Query) ([]*kernel.File, error) {
	start := time.Now()
	files, err := rec.Resolve(ctx, q)
	e.metrics.ObserveResolve(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rec.Name(), err)
	}
	return kernel.Dedupe(files), nil
}

// Furnish makes the named recipe the toolkit's active kernel set for q.
// An empty name means the selected recipe.
//
// The returned transition describes what happened and is non-nil whenever
// the toolkit was touched, including on a ToolkitError.
func (e *Engine) Furnish(ctx context.Context, name string, q kernel.Query) (*Transition, error) {
	rec, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	key := rec.Name()
	unlock := e.names.Lock(key)
	defer unlock()

	target, err := e.resolve(ctx, rec, q)
	if err == nil {
		err = e.ensureAll(ctx, target)
	}
	if err != nil {
		e.record(ctx, &Transition{
			ID:      e.ids.Generate(),
			Seq:     e.clock.Next(),
			Recipe:  key,
			Range:   q.Range,
			IDs:     q.IDs,
			Outcome: OutcomeFailed,
			Error:   err.Error(),
			At:      e.now(),
		})
		e.logger.Warn("furnish aborted before toolkit", "recipe", key, "error", err)
		return nil, err
	}

	e.tkMu.Lock()
	defer e.tkMu.Unlock()

	tr := &Transition{
		ID:          e.ids.Generate(),
		Seq:         e.clock.Next(),
		Recipe:      key,
		Range:       q.Range,
		IDs:         q.IDs,
		Previous:    e.activeLocked(),
		Files:       kernel.Names(target),
		Fingerprint: kernel.Fingerprint(target),
		At:          e.now(),
	}

	unload, load := e.diffLocked(target)
	if err := e.applyLocked(unload, load, tr); err != nil {
		e.owner = key
		e.states[key] = LoadedState{Phase: Stale, Files: target, Query: q}
		if prev := tr.Previous; prev != "" && prev != key {
			e.deactivateLocked(prev)
		}
		tr.Outcome = OutcomeFailed
		tr.Error = err.Error()
		e.record(ctx, tr)
		e.logger.Error("furnish failed in toolkit", "recipe", key, "error", err)
		return tr, err
	}

	if prev := tr.Previous; prev != "" && prev != key {
		e.deactivateLocked(prev)
	}
	e.owner = key
	e.states[key] = LoadedState{Phase: Loaded, Files: target, Query: q, Active: true}

	tr.Outcome = OutcomeApplied
	if len(tr.Ops) == 0 {
		tr.Outcome = OutcomeNoop
	}
	e.record(ctx, tr)
	loads, unloads := tr.Counts()
	e.logger.Info("furnished", "recipe", key, "query", q.String(), "files", len(target), "loaded", loads, "unloaded", unloads)
	return tr, nil
}

// Unload removes the named recipe's files from the toolkit if it is the
// recipe that last changed it, and resets the recipe's state to Empty.
func (e *Engine) Unload(ctx context.Context, name string) (*Transition, error) {
	rec, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	key := rec.Name()
	unlock := e.names.Lock(key)
	defer unlock()

	e.tkMu.Lock()
	defer e.tkMu.Unlock()

	tr := &Transition{
		ID:       e.ids.Generate(),
		Seq:      e.clock.Next(),
		Recipe:   key,
		Previous: e.activeLocked(),
		Outcome:  OutcomeNoop,
		At:       e.now(),
	}
	if e.owner == key {
		unload := slices.Clone(e.ledger)
		slices.Reverse(unload)
		if err := e.applyLocked(unload, nil, tr); err != nil {
			e.states[key] = LoadedState{Phase: Stale}
			tr.Outcome = OutcomeFailed
			tr.Error = err.Error()
			e.record(ctx, tr)
			return tr, err
		}
		e.owner = ""
		tr.Outcome = OutcomeUnloaded
	}
	delete(e.states, key)
	e.record(ctx, tr)
	e.logger.Info("unloaded", "recipe", key, "files", len(tr.Ops))
	return tr, nil
}

// State returns a copy of the recipe's loaded state. Unknown names are
// Empty.
func (e *Engine) State(name string) LoadedState {
	key := name
	if rec, err := e.registry.Get(name); err == nil {
		key = rec.Name()
	}
	e.tkMu.Lock()
	defer e.tkMu.Unlock()
	s, ok := e.states[key]
	if !ok {
		return LoadedState{Phase: Empty}
	}
	return s.clone()
}

// Active returns the name of the recipe whose files are loaded, or "".
func (e *Engine) Active() string {
	e.tkMu.Lock()
	defer e.tkMu.Unlock()
	return e.activeLocked()
}

// Loaded returns the files currently in the toolkit, in load order.
func (e *Engine) Loaded() []*kernel.File {
	e.tkMu.Lock()
	defer e.tkMu.Unlock()
	out := make([]*kernel.File, len(e.ledger))
	for i, l := range e.ledger {
		out[i] = l.file
	}
	return out
}

func (e *Engine) activeLocked() string {
	if s, ok := e.states[e.owner]; ok && s.Phase == Loaded {
		return e.owner
	}
	return ""
}

func (e *Engine) deactivateLocked(name string) {
	if s, ok := e.states[name]; ok {
		s.Active = false
		e.states[name] = s
	}
}

func (e *Engine) ensureAll(ctx context.Context, files []*kernel.File) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, f := range files {
		g.Go(func() error {
			_, err := e.ensurer.EnsureLocal(gctx, f)
			return err
		})
	}
	return g.Wait()
}

// diffLocked computes unloads (in the order to issue them) and loads.
//
// The longest prefix of target that already sits in the ledger in the same
// relative order is kept. Everything else in the ledger is unloaded, and
// the rest of target is loaded after the kept files, so the toolkit ends
// up in exactly target order.
func (e *Engine) diffLocked(target []*kernel.File) (unload []loaded, load []*kernel.File) {
	keep := make(map[string]bool, len(target))
	j := 0
	for _, f := range target {
		for j < len(e.ledger) && e.ledger[j].name() != f.Name() {
			j++
		}
		if j == len(e.ledger) {
			break
		}
		keep[f.Name()] = true
		j++
	}

	have := make(map[string]bool, len(e.ledger))
	for i := len(e.ledger) - 1; i >= 0; i-- {
		l := e.ledger[i]
		if keep[l.name()] {
			have[l.name()] = true
			continue
		}
		unload = append(unload, l)
	}
	for _, f := range target {
		if !have[f.Name()] {
			load = append(load, f)
		}
	}
	return unload, load
}

// applyLocked issues the toolkit calls, keeping the ledger in step with
// every call that succeeds.
func (e *Engine) applyLocked(unload []loaded, load []*kernel.File, tr *Transition) error {
	for _, l := range unload {
		err := e.toolkit.Unload(l.path)
		e.metrics.RecordToolkitOp(string(OpUnload), err)
		op := Operation{Op: OpUnload, Name: l.name(), Path: l.path}
		if err != nil {
			op.Err = err.Error()
			tr.Ops = append(tr.Ops, op)
			return &ToolkitError{Op: OpUnload, Name: l.name(), Path: l.path, Err: err}
		}
		tr.Ops = append(tr.Ops, op)
		name := l.name()
		e.ledger = slices.DeleteFunc(e.ledger, func(x loaded) bool { return x.name() == name })
		e.logger.Debug("unloaded kernel", "file", name, "path", l.path)
	}
	for _, f := range load {
		path := f.LocalPath()
		err := e.toolkit.Load(path)
		e.metrics.RecordToolkitOp(string(OpLoad), err)
		op := Operation{Op: OpLoad, Name: f.Name(), Path: path}
		if err != nil {
			op.Err = err.Error()
			tr.Ops = append(tr.Ops, op)
			return &ToolkitError{Op: OpLoad, Name: f.Name(), Path: path, Err: err}
		}
		tr.Ops = append(tr.Ops, op)
		e.ledger = append(e.ledger, loaded{file: f, path: path})
		e.logger.Debug("loaded kernel", "file", f.Name(), "path", path)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, tr *Transition) {
	e.metrics.RecordTransition(string(tr.Outcome))
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordTransition(ctx, tr); err != nil {
		e.logger.Warn("journal write failed", "recipe", tr.Recipe, "seq", tr.Seq, "error", err)
	}
}
