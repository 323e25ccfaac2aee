package harness

import "github.com/roach88/hswatch/internal/engine"

// Trace event types.
const (
	TraceReport = "report"
	TraceSend   = "send"
	TraceReset  = "reset"
)

// TraceEvent is one observable engine output: a report, a bus send or a
// processor reset request.
type TraceEvent struct {
	Type    string `json:"type"`
	Boot    int    `json:"boot"`
	Cycle   int64  `json:"cycle"`
	Report  string `json:"report,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every report, send and reset in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the engine's housekeeping snapshot after the last step.
	Final engine.Housekeeping `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddReportTrace adds a report to the trace.
func (r *Result) AddReportTrace(boot int, cycle int64, id engine.ReportID) {
	r.Trace = append(r.Trace, TraceEvent{Type: TraceReport, Boot: boot, Cycle: cycle, Report: id.String()})
}

// AddSendTrace adds a bus send to the trace. payload is lowercase hex.
func (r *Result) AddSendTrace(boot int, cycle int64, payload string) {
	r.Trace = append(r.Trace, TraceEvent{Type: TraceSend, Boot: boot, Cycle: cycle, Payload: payload})
}

// AddResetTrace adds a processor reset request to the trace.
func (r *Result) AddResetTrace(boot int, cycle int64) {
	r.Trace = append(r.Trace, TraceEvent{Type: TraceReset, Boot: boot, Cycle: cycle})
}

// Count returns how many trace events have the given type.
func (r *Result) Count(typ string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
