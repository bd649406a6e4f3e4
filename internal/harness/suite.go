package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes running every scenario in a directory.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that failed to load, set up or pass.
type SuiteFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RunDir loads and runs every *.yaml scenario in dir, in name order.
// Scenario names must be unique within the directory.
//
// For each scenario file:
// 1. Load and validate it
// 2. Run it via Run
// 3. Collect the outcome
func RunDir(ctx context.Context, dir string) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("scenario directory: %w", err)
		}
	}
	sort.Strings(paths)

	result := &SuiteResult{}
	seen := make(map[string]string)
	fail := func(path, msg string) {
		result.Failed++
		result.Failures = append(result.Failures, SuiteFailure{Path: path, Error: msg})
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			fail(path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		if prev, dup := seen[scenario.Name]; dup {
			fail(path, fmt.Sprintf("scenario name %q already used by %s", scenario.Name, filepath.Base(prev)))
			continue
		}
		seen[scenario.Name] = path

		runResult, err := Run(ctx, scenario)
		if err != nil {
			fail(path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !runResult.Pass {
			fail(path, fmt.Sprintf("scenario failed: %s", strings.Join(runResult.Errors, "; ")))
			continue
		}
		result.Passed++
	}

	return result, nil
}
