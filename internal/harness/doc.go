// Package harness provides conformance testing for recipe resolution and
// furnishing.
//
// The harness loads a scenario (an inline kernel catalog plus CUE recipes),
// drives a real furnish engine through its steps, and checks the toolkit
// calls, the journal and the final state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	catalog: |
//	  source: "mem://mirror"
//	  kernels:
//	    - name: naif0012.tls
//	recipes: |
//	  recipe: generic: kernels: [{set: {ktype: "lsk"}}]
//	faults:
//	  - op: load
//	    file: naif0012.tls
//	steps:
//	  - action: furnish
//	    recipe: generic
//	    start: "2020-01-01"
//	    end: "2020-01-02"
//	    expect:
//	      outcome: applied
//	      files: [naif0012.tls]
//	assertions:
//	  - type: toolkit_contains
//	    op: load
//	    file: naif0012.tls
//	  - type: final_state
//	    recipe: generic
//	    state: { phase: loaded, active: true }
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - toolkit_contains: a successful toolkit call was made
//   - toolkit_order: toolkit calls appear in order
//   - toolkit_count: a toolkit call appears exactly N times
//   - final_state: a recipe's loaded state
//   - loaded: the toolkit pool in load order
//   - fetch_count: the remote served a file exactly N times
//   - journal_count: the journal holds N matching transitions
//
// # Deterministic Testing
//
// Transition ids come from testutil.SequentialIDs, timestamps from
// testutil.StepClock and sequence numbers from a fresh furnish.Clock. The
// journal is an in-memory SQLite database and downloads go to a temporary
// directory, both discarded after the run. Traces name files, never paths,
// so identical scenarios produce byte-identical golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/switch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
