package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/furnish/internal/kernel"
)

// Scenario defines a conformance test scenario.
// A scenario describes a kernel catalog and a set of recipes, drives the
// furnish engine through a sequence of steps and asserts on the toolkit
// calls, the journal and the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is an inline YAML catalog document. Every entry with a URL is
	// served by the scenario's in-memory remote unless listed in Missing.
	Catalog string `yaml:"catalog"`

	// Recipes is inline CUE source declaring the recipes under test.
	Recipes string `yaml:"recipes"`

	// Missing lists catalogued files the remote does not have.
	Missing []string `yaml:"missing,omitempty"`

	// Faults are failures injected into the remote or the toolkit.
	Faults []Fault `yaml:"faults,omitempty"`

	// Steps are executed in order against one engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`

	// IDPrefix prefixes generated transition ids. Defaults to the name.
	IDPrefix string `yaml:"id_prefix,omitempty"`
}

// Fault is a one-shot failure. Load and unload faults fail the next toolkit
// call on the file; fetch faults fail the next Times downloads of it.
type Fault struct {
	Op    string `yaml:"op"`
	File  string `yaml:"file"`
	Times int    `yaml:"times,omitempty"`
	Error string `yaml:"error,omitempty"`
}

// Step is one engine call.
type Step struct {
	// Action is "furnish", "used" or "unload".
	Action string `yaml:"action"`

	// Recipe names the recipe. Empty means the selected recipe.
	Recipe string `yaml:"recipe,omitempty"`

	// Start and End bound the requested range. Either may be empty.
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`

	// IDs narrows the query to these body or frame ids.
	IDs []int `yaml:"ids,omitempty"`

	// Expect validates the step's outcome. If nil, the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected result of a step.
type Expect struct {
	// Outcome is the journaled transition outcome (furnish and unload).
	Outcome string `yaml:"outcome,omitempty"`

	// Files is the expected target sequence, by name.
	Files []string `yaml:"files,omitempty"`

	// Error is the expected error kind, one of the Err* constants.
	Error string `yaml:"error,omitempty"`
}

// Step actions.
const (
	ActionFurnish = "furnish"
	ActionUsed    = "used"
	ActionUnload  = "unload"
)

// Fault operations.
const (
	FaultLoad   = "load"
	FaultUnload = "unload"
	FaultFetch  = "fetch"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "toolkit_contains": a toolkit call op on file was made
	// - "toolkit_order": toolkit calls appear in order
	// - "toolkit_count": a toolkit call appears exactly Count times
	// - "final_state": a recipe's loaded state
	// - "loaded": the toolkit pool, in load order
	// - "fetch_count": the remote served file exactly Count times
	// - "journal_count": the journal holds Count matching transitions
	Type string `yaml:"type"`

	// Op and File identify a toolkit call ("load" or "unload").
	Op   string `yaml:"op,omitempty"`
	File string `yaml:"file,omitempty"`

	// Calls is the expected toolkit call order, as "op file" strings.
	Calls []string `yaml:"calls,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Recipe selects the recipe (final_state, journal_count).
	Recipe string `yaml:"recipe,omitempty"`

	// Outcome filters journal_count by transition outcome.
	Outcome string `yaml:"outcome,omitempty"`

	// State is the expected loaded state (final_state).
	State *StateExpect `yaml:"state,omitempty"`

	// Files is the expected toolkit pool (loaded).
	Files []string `yaml:"files,omitempty"`
}

// StateExpect is the subset of furnish.LoadedState a final_state assertion
// checks. Files is compared only when set.
type StateExpect struct {
	Phase  string   `yaml:"phase"`
	Active bool     `yaml:"active"`
	Files  []string `yaml:"files,omitempty"`
}

// Assertion type constants.
const (
	AssertToolkitContains = "toolkit_contains"
	AssertToolkitOrder    = "toolkit_order"
	AssertToolkitCount    = "toolkit_count"
	AssertFinalState      = "final_state"
	AssertLoaded          = "loaded"
	AssertFetchCount      = "fetch_count"
	AssertJournalCount    = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Recipes == "" {
		return fmt.Errorf("recipes is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, f := range s.Faults {
		if f.File == "" {
			return fmt.Errorf("faults[%d]: file is required", i)
		}
		switch f.Op {
		case FaultLoad, FaultUnload:
		case FaultFetch:
			if f.Times < 1 {
				return fmt.Errorf("faults[%d]: times must be at least 1 for fetch", i)
			}
		default:
			return fmt.Errorf("faults[%d]: unknown op %q", i, f.Op)
		}
	}

	for i, step := range s.Steps {
		switch step.Action {
		case ActionFurnish, ActionUsed, ActionUnload:
		case "":
			return fmt.Errorf("steps[%d]: action is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if _, err := step.query(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Error != "" && !slices.Contains(errorKinds, step.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertToolkitContains:
		if a.Op == "" || a.File == "" {
			return fmt.Errorf("assertions[%d]: op and file are required for toolkit_contains", index)
		}
	case AssertToolkitOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for toolkit_order", index)
		}
	case AssertToolkitCount:
		if a.Op == "" || a.File == "" {
			return fmt.Errorf("assertions[%d]: op and file are required for toolkit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for toolkit_count", index)
		}
	case AssertFinalState:
		if a.Recipe == "" {
			return fmt.Errorf("assertions[%d]: recipe is required for final_state", index)
		}
		if a.State == nil {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	case AssertLoaded:
	case AssertFetchCount:
		if a.File == "" {
			return fmt.Errorf("assertions[%d]: file is required for fetch_count", index)
		}
	case AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// query parses the step's bounds and ids.
func (s Step) query() (kernel.Query, error) {
	start, err := kernel.ParseTime(s.Start)
	if err != nil {
		return kernel.Query{}, fmt.Errorf("start: %w", err)
	}
	end, err := kernel.ParseTime(s.End)
	if err != nil {
		return kernel.Query{}, fmt.Errorf("end: %w", err)
	}
	q := kernel.Over(kernel.Between(start, end), s.IDs...)
	if !q.Valid() {
		return kernel.Query{}, fmt.Errorf("end %s is before start %s", s.End, s.Start)
	}
	return q, nil
}
