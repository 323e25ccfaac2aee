package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that did not pass.
type SuiteFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// ExpandPaths replaces every directory in paths with the scenario files
// (*.yaml, *.yml) directly inside it, sorted by name.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scenario path: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("read scenario dir: %w", err)
		}
		var files []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
		slices.Sort(files)
		out = append(out, files...)
	}
	return out, nil
}

// RunFiles loads and runs every scenario file. A file that fails to load or
// run counts as a failed scenario; RunFiles only returns an error when ctx
// is cancelled.
func RunFiles(ctx context.Context, paths []string, opts ...Option) (*SuiteResult, error) {
	result := &SuiteResult{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Path:   path,
				Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
			})
			continue
		}

		runResult, err := Run(scenario, opts...)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Scenario: scenario.Name,
				Path:     path,
				Errors:   []string{fmt.Sprintf("scenario execution failed: %v", err)},
			})
			continue
		}

		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				Scenario: scenario.Name,
				Path:     path,
				Errors:   runResult.Errors,
			})
			continue
		}

		result.Passed++
	}

	return result, nil
}
