package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestRun_Minimal(t *testing.T) {
	result, err := Run(context.Background(), parse(t, minimalScenario))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Trace, 1)
	ev := result.Trace[0]
	assert.Equal(t, 1, ev.Step)
	assert.Equal(t, "minimal-0001", ev.ID)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, "2026-01-01T00:00:00Z", ev.At)
	assert.Equal(t, "applied", ev.Outcome)
	assert.Equal(t, "[2020-01-01T00:00:00Z, *]", ev.Range)
	assert.Equal(t, []string{"naif0012.tls"}, ev.Files)
	assert.Equal(t, []string{"load naif0012.tls"}, ev.Calls)
}

func TestRun_IsDeterministic(t *testing.T) {
	s := parse(t, minimalScenario)
	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_IDPrefix(t *testing.T) {
	s := parse(t, minimalScenario)
	s.IDPrefix = "custom"
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "custom-0001", result.Trace[0].ID)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	doc := strings.Replace(minimalScenario, "outcome: applied", "outcome: noop", 1)
	doc = strings.Replace(doc, "files: [naif0012.tls]", "files: [de440.bsp]", 1)

	result, err := Run(context.Background(), parse(t, doc))
	require.NoError(t, err, "a failing expectation is a result, not an error")
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `step 1 (furnish generic): expected outcome "noop", got "applied"`)
	assert.Contains(t, result.Errors[1], "expected files [de440.bsp], got [naif0012.tls]")
}

func TestRun_UnexpectedError(t *testing.T) {
	doc := strings.Replace(minimalScenario, "recipe: generic\n    start", "recipe: nope\n    start", 1)

	result, err := Run(context.Background(), parse(t, doc))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected error "", got not_found`)
	assert.Equal(t, ErrNotFound, result.Trace[0].Error)
	assert.Zero(t, result.Trace[0].Seq, "an unknown recipe is never journaled")
}

func TestRun_FailingAssertion(t *testing.T) {
	doc := strings.Replace(minimalScenario, "op: load", "op: unload", 1)

	result, err := Run(context.Background(), parse(t, doc))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: toolkit_contains")
	assert.Contains(t, result.Errors[0], "[1] load naif0012.tls")
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Scenario)
		wantErr string
	}{
		{
			name:    "bad catalog",
			edit:    func(s *Scenario) { s.Catalog = "kernels:\n  - nam: x\n" },
			wantErr: "failed to load catalog",
		},
		{
			name:    "bad recipes",
			edit:    func(s *Scenario) { s.Recipes = "recipe: generic: kernels: [{bogus: 1}]" },
			wantErr: "failed to compile recipes",
		},
		{
			name:    "reference cycle",
			edit:    func(s *Scenario) { s.Recipes = "recipe: a: reference: \"b\"\nrecipe: b: reference: \"a\"" },
			wantErr: "failed to build recipes",
		},
		{
			name: "fetch fault on uncatalogued file",
			edit: func(s *Scenario) {
				s.Faults = []Fault{{Op: FaultFetch, File: "ghost.bsp", Times: 1}}
			},
			wantErr: "ghost.bsp has no remote source",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parse(t, minimalScenario)
			tt.edit(s)
			_, err := Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", errorKind(nil))
	assert.Equal(t, ErrOther, errorKind(assert.AnError))
	assert.ElementsMatch(t, errorKinds, []string{ErrNotFound, ErrCoverageGap, ErrAmbiguous, ErrFetch, ErrToolkit, ErrOther})
}
