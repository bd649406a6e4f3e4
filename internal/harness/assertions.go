package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/store"
	"github.com/roach88/furnish/internal/testutil"
	"github.com/roach88/furnish/internal/toolkit"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Calls    []string // Toolkit calls for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nToolkit calls:\n")
		for i, call := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, call)
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions inspect after the steps ran.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	Engine   *furnish.Engine
	Recorder *toolkit.Recorder
	Remote   *testutil.FakeRemote
	// URLs maps catalogued file names to their remote URL.
	URLs map[string]string
}

// toolkitCall is a recorder call keyed by file name.
type toolkitCall struct {
	op, file string
	failed   bool
}

func (c toolkitCall) String() string {
	s := c.op + " " + c.file
	if c.failed {
		s += " !"
	}
	return s
}

func toolkitCalls(rec *toolkit.Recorder) []toolkitCall {
	var calls []toolkitCall
	for _, c := range rec.Calls() {
		calls = append(calls, toolkitCall{op: c.Op, file: filepath.Base(c.Path), failed: c.Err != nil})
	}
	return calls
}

func describeCalls(calls []toolkitCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// assertToolkitContains checks that a successful call op on file was made.
func assertToolkitContains(calls []toolkitCall, a Assertion) error {
	for _, c := range calls {
		if c.op == a.Op && c.file == a.File && !c.failed {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertToolkitContains,
		Expected: fmt.Sprintf("%s %s", a.Op, a.File),
		Actual:   "not found in toolkit calls",
		Calls:    describeCalls(calls),
	}
}

// assertToolkitOrder checks that the calls appear in the given order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertToolkitOrder(calls []toolkitCall, a Assertion) error {
	next := 0
	for _, c := range calls {
		if next < len(a.Calls) && !c.failed && c.String() == a.Calls[next] {
			next++
		}
	}
	if next == len(a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:     AssertToolkitOrder,
		Expected: fmt.Sprintf("calls in order: %v", a.Calls),
		Actual:   fmt.Sprintf("%q not found after %v", a.Calls[next], a.Calls[:next]),
		Calls:    describeCalls(calls),
	}
}

// assertToolkitCount checks that a successful call appears exactly Count
// times.
func assertToolkitCount(calls []toolkitCall, a Assertion) error {
	count := 0
	for _, c := range calls {
		if c.op == a.Op && c.file == a.File && !c.failed {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertToolkitCount,
			Expected: fmt.Sprintf("%d occurrences of %s %s", a.Count, a.Op, a.File),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Calls:    describeCalls(calls),
		}
	}
	return nil
}

// assertFinalState checks a recipe's loaded state.
func assertFinalState(eng *furnish.Engine, a Assertion) error {
	s := eng.State(a.Recipe)
	want := a.State
	got := fmt.Sprintf("phase=%s active=%t files=%v", s.Phase, s.Active, kernel.Names(s.Files))

	if string(s.Phase) != want.Phase || s.Active != want.Active ||
		(want.Files != nil && !slices.Equal(want.Files, kernel.Names(s.Files))) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s: phase=%s active=%t files=%v", a.Recipe, want.Phase, want.Active, want.Files),
			Actual:   got,
		}
	}
	return nil
}

// assertLoaded checks the toolkit pool, by file name, in load order.
func assertLoaded(rec *toolkit.Recorder, a Assertion) error {
	var names []string
	for _, p := range rec.Loaded() {
		names = append(names, filepath.Base(p))
	}
	if !slices.Equal(names, a.Files) {
		return &AssertionError{
			Type:     AssertLoaded,
			Expected: fmt.Sprintf("%v", a.Files),
			Actual:   fmt.Sprintf("%v", names),
			Calls:    describeCalls(toolkitCalls(rec)),
		}
	}
	return nil
}

// assertFetchCount checks how many times the remote served a file,
// failed attempts included.
func assertFetchCount(actx *AssertionContext, a Assertion) error {
	url, ok := actx.URLs[a.File]
	if !ok {
		return fmt.Errorf("fetch_count: %s has no remote source", a.File)
	}
	if n := actx.Remote.Opens(url); n != a.Count {
		return &AssertionError{
			Type:     AssertFetchCount,
			Expected: fmt.Sprintf("%d fetches of %s", a.Count, a.File),
			Actual:   fmt.Sprintf("%d fetches", n),
		}
	}
	return nil
}

// assertJournalCount counts journaled transitions, optionally filtered by
// recipe and outcome.
func assertJournalCount(actx *AssertionContext, a Assertion) error {
	var (
		trs []furnish.Transition
		err error
	)
	if a.Recipe != "" {
		trs, err = actx.Store.RecipeTransitions(actx.Ctx, a.Recipe, 0)
	} else {
		trs, err = actx.Store.ListTransitions(actx.Ctx, 0)
	}
	if err != nil {
		return fmt.Errorf("journal_count: %w", err)
	}
	count := 0
	for _, tr := range trs {
		if a.Outcome == "" || string(tr.Outcome) == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d transitions (recipe=%q outcome=%q)", a.Count, a.Recipe, a.Outcome),
			Actual:   fmt.Sprintf("%d transitions", count),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the scenario's final
// state. Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	var calls []toolkitCall
	if actx != nil && actx.Recorder != nil {
		calls = toolkitCalls(actx.Recorder)
	}

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertToolkitContains:
			err = assertToolkitContains(calls, a)
		case AssertToolkitOrder:
			err = assertToolkitOrder(calls, a)
		case AssertToolkitCount:
			err = assertToolkitCount(calls, a)
		case AssertFinalState:
			if actx == nil || actx.Engine == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires an engine", i)
			} else {
				err = assertFinalState(actx.Engine, a)
			}
		case AssertLoaded:
			if actx == nil || actx.Recorder == nil {
				err = fmt.Errorf("assertion[%d]: loaded requires a toolkit recorder", i)
			} else {
				err = assertLoaded(actx.Recorder, a)
			}
		case AssertFetchCount:
			if actx == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: fetch_count requires a remote", i)
			} else {
				err = assertFetchCount(actx, a)
			}
		case AssertJournalCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: journal_count requires database context", i)
			} else {
				err = assertJournalCount(actx, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
