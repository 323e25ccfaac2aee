package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/tables"
)

// Scenario drives an engine tick by tick with scripted liveness counts,
// fault events, commands and table changes, then asserts on the trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// BootID is stamped on every boot. Empty means "test-boot-default".
	BootID string `yaml:"boot_id,omitempty"`

	// MaxResets is the reset limit written when the persisted block is
	// first created. Nil means engine.DefaultMaxResets.
	MaxResets *uint16 `yaml:"max_resets,omitempty"`

	// Initial selects which monitors Init enables. Nil enables everything.
	Initial *engine.InitialState `yaml:"initial,omitempty"`

	// Tables holds the entries of each table, keyed by kind. A missing
	// monitor or message action table starts empty; a missing execution
	// counter table is not configured at all.
	Tables map[tables.Kind]yaml.Node `yaml:"tables"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one stage of a scenario. Its parts apply in field order, then
// the engine ticks Ticks times.
type Step struct {
	// Restart replaces the engine with a fresh one sharing the persistent
	// block, tables and registry, as after a processor reset.
	Restart bool `yaml:"restart,omitempty"`

	// Tables replaces the entries of the named tables.
	Tables map[tables.Kind]yaml.Node `yaml:"tables,omitempty"`

	// Unavailable makes the named tables fail to lease until replaced.
	Unavailable []tables.Kind `yaml:"unavailable,omitempty"`

	// Liveness sets application liveness counts.
	Liveness map[string]uint32 `yaml:"liveness,omitempty"`

	// Alive lists applications that make progress before every tick.
	Alive []string `yaml:"alive,omitempty"`

	// Events are queued on the engine's pipe.
	Events []EventStep `yaml:"events,omitempty"`

	// Commands are queued on the engine's pipe after Events.
	Commands []CommandStep `yaml:"commands,omitempty"`

	// Ticks is how many cycles to run. The pipe drains one message per tick.
	Ticks int `yaml:"ticks"`
}

// EventStep is one fault event.
type EventStep struct {
	AppName string `yaml:"app_name"`
	EventID uint16 `yaml:"event_id"`
}

// CommandStep is one ground command.
type CommandStep struct {
	Name string             `yaml:"name"`
	Args engine.CommandArgs `yaml:"args,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "reports": report Report appears exactly Count times
	// - "report_order": Reports appear in this order
	// - "actions": exactly Count messages were sent
	// - "resets": exactly Count processor resets were requested
	// - "resets_performed": the persisted performed count is Count
	Type string `yaml:"type"`

	// Report is the report name (used by reports).
	Report string `yaml:"report,omitempty"`

	// Reports is the expected report order (used by report_order).
	Reports []string `yaml:"reports,omitempty"`

	// Count is the expected number.
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertReports         = "reports"
	AssertReportOrder     = "report_order"
	AssertActions         = "actions"
	AssertResets          = "resets"
	AssertResetsPerformed = "resets_performed"
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
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for kind := range s.Tables {
		if !slices.Contains(tables.Kinds, kind) {
			return fmt.Errorf("tables: unknown table kind %q", kind)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if st.Ticks < 0 {
		return fmt.Errorf("steps[%d]: ticks must be non-negative", index)
	}
	for kind := range st.Tables {
		if !slices.Contains(tables.Kinds, kind) {
			return fmt.Errorf("steps[%d].tables: unknown table kind %q", index, kind)
		}
	}
	for _, kind := range st.Unavailable {
		if !slices.Contains(tables.Kinds, kind) {
			return fmt.Errorf("steps[%d].unavailable: unknown table kind %q", index, kind)
		}
	}
	for j, ev := range st.Events {
		if ev.AppName == "" {
			return fmt.Errorf("steps[%d].events[%d]: app_name is required", index, j)
		}
	}
	for j, c := range st.Commands {
		if _, err := engine.NewCommand(c.Name, c.Args); err != nil {
			return fmt.Errorf("steps[%d].commands[%d]: %w", index, j, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertReports:
		if a.Report == "" {
			return fmt.Errorf("assertions[%d]: report is required for reports", index)
		}
		if _, ok := engine.ParseReportID(a.Report); !ok {
			return fmt.Errorf("assertions[%d]: unknown report %q", index, a.Report)
		}
	case AssertReportOrder:
		if len(a.Reports) == 0 {
			return fmt.Errorf("assertions[%d]: reports list is required for report_order", index)
		}
		for _, name := range a.Reports {
			if _, ok := engine.ParseReportID(name); !ok {
				return fmt.Errorf("assertions[%d]: unknown report %q", index, name)
			}
		}
	case AssertActions, AssertResets, AssertResetsPerformed:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
