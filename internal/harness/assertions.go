package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] boot %d cycle %d %s", i+1, ev.Boot, ev.Cycle, ev.Type)
			switch ev.Type {
			case TraceReport:
				fmt.Fprintf(&buf, " %s", ev.Report)
			case TraceSend:
				fmt.Fprintf(&buf, " %s", ev.Payload)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// assertReports checks that the report appears exactly the specified number of times.
func assertReports(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == TraceReport && ev.Report == assertion.Report {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertReports,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Report),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertReportOrder checks that reports appear in the specified order.
// Reports don't need to be consecutive (intervening events are allowed), and
// a name may repeat: each expected entry matches the next occurrence after
// the previous match.
func assertReportOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Reports {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Type == TraceReport && ev.Report == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertReportOrder,
				Expected: fmt.Sprintf("reports in order: %v", assertion.Reports),
				Actual:   fmt.Sprintf("%s (entry %d) not found after the previous match", want, i),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events of typ were traced.
func assertTraceCount(result *Result, typ string, assertion Assertion) error {
	if n := result.Count(typ); n != assertion.Count {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, typ),
			Actual:   fmt.Sprintf("%d %s events", n, typ),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertResetsPerformed checks the persisted performed count.
func assertResetsPerformed(result *Result, assertion Assertion) error {
	if got := int(result.Final.ResetsPerformed); got != assertion.Count {
		return &AssertionError{
			Type:     AssertResetsPerformed,
			Expected: fmt.Sprintf("resets_performed = %d", assertion.Count),
			Actual:   fmt.Sprintf("resets_performed = %d (max %d)", got, result.Final.MaxResets),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertReports:
			err = assertReports(result.Trace, assertion)
		case AssertReportOrder:
			err = assertReportOrder(result.Trace, assertion)
		case AssertActions:
			err = assertTraceCount(result, TraceSend, assertion)
		case AssertResets:
			err = assertTraceCount(result, TraceReset, assertion)
		case AssertResetsPerformed:
			err = assertResetsPerformed(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
