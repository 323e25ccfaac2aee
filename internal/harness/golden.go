package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hswatch/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	BootID       string       `json:"boot_id,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type":  ev.Type,
			"boot":  ev.Boot,
			"cycle": ev.Cycle,
		}
		if ev.Report != "" {
			m["report"] = ev.Report
		}
		if ev.Payload != "" {
			m["payload"] = ev.Payload
		}
		traceList[i] = m
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.BootID != "" {
		result["boot_id"] = s.BootID
	}
	return result
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		BootID:       scenario.BootID,
		Trace:        result.Trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
