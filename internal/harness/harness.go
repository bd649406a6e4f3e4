package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/furnish/internal/catalog"
	"github.com/roach88/furnish/internal/compiler"
	"github.com/roach88/furnish/internal/fetch"
	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/metrics"
	"github.com/roach88/furnish/internal/recipe"
	"github.com/roach88/furnish/internal/store"
	"github.com/roach88/furnish/internal/testutil"
	"github.com/roach88/furnish/internal/toolkit"
)

// Error kinds a step can expect.
const (
	ErrNotFound    = "not_found"
	ErrCoverageGap = "coverage_gap"
	ErrAmbiguous   = "ambiguous"
	ErrFetch       = "fetch"
	ErrToolkit     = "toolkit"
	ErrOther       = "error"
)

var errorKinds = []string{ErrNotFound, ErrCoverageGap, ErrAmbiguous, ErrFetch, ErrToolkit, ErrOther}

// Harness is the test execution engine.
// It drives a real furnish.Engine over an in-memory remote, a recording
// toolkit and an in-memory journal, with a deterministic clock and ids.
type Harness struct {
	store    *store.Store
	engine   *furnish.Engine
	recorder *toolkit.Recorder
	remote   *testutil.FakeRemote
	urls     map[string]string
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database and download root for
// isolation. Deterministic helpers ensure reproducible traces.
//
// Execution flow:
// 1. Load the inline catalog and serve it from an in-memory remote
// 2. Compile the inline recipes
// 3. Inject faults
// 4. Execute steps, checking each against its expect clause
// 5. Evaluate assertions and return the result
//
// An error is returned only when the scenario cannot be set up.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	downloads, err := os.MkdirTemp("", "furnish-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download root: %w", err)
	}
	defer os.RemoveAll(downloads)

	h, err := setup(scenario, st, downloads)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		Engine:   h.engine,
		Recorder: h.recorder,
		Remote:   h.remote,
		URLs:     h.urls,
	}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func setup(scenario *Scenario, st *store.Store, downloads string) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat := catalog.New()
	if err := cat.Load(strings.NewReader(scenario.Catalog)); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	remote := testutil.NewFakeRemote()
	urls := make(map[string]string)
	for _, e := range cat.Entries() {
		if e.URL == "" {
			continue
		}
		urls[e.Name] = e.URL
		if !slices.Contains(scenario.Missing, e.Name) {
			remote.Put(e.URL, []byte("contents of "+e.Name))
		}
	}

	recorder := toolkit.NewRecorder()
	pool := &faultyPool{rec: recorder, faults: make(map[string]error)}
	for i, f := range scenario.Faults {
		msg := f.Error
		if msg == "" {
			msg = "injected " + f.Op + " failure"
		}
		switch f.Op {
		case FaultFetch:
			url, ok := urls[f.File]
			if !ok {
				return nil, fmt.Errorf("faults[%d]: %s has no remote source", i, f.File)
			}
			remote.FailNext(url, f.Times)
		default:
			pool.faults[f.Op+"\x00"+f.File] = errors.New(msg)
		}
	}

	defs, err := compiler.CompileSource(scenario.Name+".cue", []byte(scenario.Recipes))
	if err != nil {
		return nil, fmt.Errorf("failed to compile recipes: %w", err)
	}
	reg := recipe.NewRegistry()
	env := compiler.Env{
		Catalog:   cat,
		Describer: kernel.Describers{cat, catalog.NaifGenericRules},
		Priority:  kernel.DefaultPriority,
	}
	if _, err := compiler.Build(reg, defs, env); err != nil {
		return nil, fmt.Errorf("failed to build recipes: %w", err)
	}

	m, err := metrics.New(metrics.DefaultNamespace, prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	cache := fetch.New(fetch.Roots{Downloads: downloads}, remote,
		fetch.WithRetries(2),
		fetch.WithBackoff(time.Millisecond, time.Millisecond),
		fetch.WithMetrics(m),
		fetch.WithLogger(logger),
	)

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = scenario.Name
	}
	opts := []furnish.EngineOption{
		furnish.WithClock(furnish.NewClock()),
		furnish.WithIDGenerator(testutil.NewSequentialIDs(prefix)),
		furnish.WithNow(testutil.NewStepClock(testutil.Epoch, time.Second).Now),
		furnish.WithJournal(st),
		furnish.WithMetrics(m),
		furnish.WithLogger(logger),
	}

	return &Harness{
		store:    st,
		engine:   furnish.New(reg, cache, pool, opts...),
		recorder: recorder,
		remote:   remote,
		urls:     urls,
		logger:   logger,
	}, nil
}

// executeSteps runs every step and validates its expect clause.
//
// Each step:
// 1. Calls the engine
// 2. Reads the transition it journaled, if any
// 3. Builds the trace event for golden file comparison
// 4. Compares the event with the expect clause
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		q, err := step.query()
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		before, err := h.store.LastSeq(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		ev := TraceEvent{Step: i + 1, Action: step.Action, Recipe: step.Recipe}
		var stepErr error
		switch step.Action {
		case ActionUsed:
			ev.Range, ev.IDs = q.Range.String(), q.IDs
			var files []*kernel.File
			files, stepErr = h.engine.Used(ctx, step.Recipe, q)
			ev.Files = kernel.Names(files)
		case ActionFurnish:
			ev.Range, ev.IDs = q.Range.String(), q.IDs
			_, stepErr = h.engine.Furnish(ctx, step.Recipe, q)
		case ActionUnload:
			_, stepErr = h.engine.Unload(ctx, step.Recipe)
		}
		ev.Error = errorKind(stepErr)

		after, err := h.store.LastSeq(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if after > before {
			trs, err := h.store.ListTransitions(ctx, 1)
			if err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			fillFromTransition(&ev, &trs[0])
		}

		h.check(step, ev, stepErr, result)
		result.AddEvent(ev)

		h.logger.Info("step completed",
			"step", ev.Step,
			"action", ev.Action,
			"recipe", ev.Recipe,
			"outcome", ev.Outcome,
			"error", ev.Error,
		)
	}
	return nil
}

func fillFromTransition(ev *TraceEvent, tr *furnish.Transition) {
	ev.Recipe = tr.Recipe
	ev.ID = tr.ID
	ev.Seq = tr.Seq
	ev.At = tr.At.UTC().Format(time.RFC3339)
	ev.Outcome = string(tr.Outcome)
	ev.Files = tr.Files
	for _, op := range tr.Ops {
		call := string(op.Op) + " " + op.Name
		if op.Err != "" {
			call += " !" + op.Err
		}
		ev.Calls = append(ev.Calls, call)
	}
}

// check compares a step's event with its expect clause.
func (h *Harness) check(step Step, ev TraceEvent, stepErr error, result *Result) {
	want := step.Expect
	if want == nil {
		want = &Expect{}
	}
	label := fmt.Sprintf("step %d (%s %s)", ev.Step, ev.Action, ev.Recipe)

	if want.Error != ev.Error {
		actual := "no error"
		if stepErr != nil {
			actual = fmt.Sprintf("%s: %v", ev.Error, stepErr)
		}
		result.AddError(fmt.Sprintf("%s: expected error %q, got %s", label, want.Error, actual))
	}
	if want.Outcome != "" && want.Outcome != ev.Outcome {
		result.AddError(fmt.Sprintf("%s: expected outcome %q, got %q", label, want.Outcome, ev.Outcome))
	}
	if want.Files != nil && !slices.Equal(want.Files, ev.Files) {
		result.AddError(fmt.Sprintf("%s: expected files %v, got %v", label, want.Files, ev.Files))
	}
}

// errorKind classifies a step error. Nil is "".
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, recipe.ErrNotFound):
		return ErrNotFound
	case furnish.IsToolkitError(err):
		return ErrToolkit
	case fetch.IsFetchError(err):
		return ErrFetch
	case kernel.IsCoverageGap(err):
		return ErrCoverageGap
	case kernel.IsAmbiguousSelection(err):
		return ErrAmbiguous
	default:
		return ErrOther
	}
}

// faultyPool arms one-shot recorder failures by file name, so scenarios
// need not know where the cache put a file.
type faultyPool struct {
	rec    *toolkit.Recorder
	mu     sync.Mutex
	faults map[string]error
}

func (p *faultyPool) Load(path string) error {
	p.arm(FaultLoad, path)
	return p.rec.Load(path)
}

func (p *faultyPool) Unload(path string) error {
	p.arm(FaultUnload, path)
	return p.rec.Unload(path)
}

func (p *faultyPool) arm(op, path string) {
	key := op + "\x00" + filepath.Base(path)
	p.mu.Lock()
	err, ok := p.faults[key]
	delete(p.faults, key)
	p.mu.Unlock()
	if ok {
		p.rec.FailOn(op, path, err)
	}
}
