package furnish

import (
	"slices"
	"time"

	"github.com/roach88/furnish/internal/kernel"
)

// Phase is the lifecycle position of a recipe's loaded state.
type Phase string

const (
	// Empty: nothing has been furnished for the recipe.
	Empty Phase = "empty"
	// Loaded: the recipe's target was fully applied.
	Loaded Phase = "loaded"
	// Stale: the last transition failed part way through.
	Stale Phase = "stale"
)

// LoadedState is the engine's record for one recipe name.
type LoadedState struct {
	Phase Phase
	// Files is the target sequence the state was computed for.
	Files []*kernel.File
	Query kernel.Query
	// Active is true while these files are the ones in the toolkit.
	Active bool
}

func (s LoadedState) clone() LoadedState {
	s.Files = slices.Clone(s.Files)
	s.Query.IDs = slices.Clone(s.Query.IDs)
	return s
}

// Outcome summarizes a transition.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeFailed   Outcome = "failed"
	OutcomeUnloaded Outcome = "unloaded"
)

// Operation is one toolkit call made during a transition.
type Operation struct {
	Op   Op
	Name string
	Path string
	// Err is set when the toolkit rejected the call.
	Err string
}

// Transition is the journal record of one Furnish or Unload call.
type Transition struct {
	ID       string
	Seq      int64
	Recipe   string
	Range    kernel.TimeRange
	// IDs are the body or frame ids the recipe was furnished for.
	IDs      []int
	Outcome  Outcome
	Previous string
	// Files and Fingerprint describe the target sequence.
	Files       []string
	Fingerprint string
	Ops         []Operation
	Error       string
	At          time.Time
}

// Counts returns the number of successful loads and unloads.
func (t *Transition) Counts() (loads, unloads int) {
	for _, op := range t.Ops {
		if op.Err != "" {
			continue
		}
		switch op.Op {
		case OpLoad:
			loads++
		case OpUnload:
			unloads++
		}
	}
	return loads, unloads
}
