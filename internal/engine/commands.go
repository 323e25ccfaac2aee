package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command is one ground-command request processed by the engine. Command
// parsing happens upstream; the engine only sees typed values.
type Command interface {
	// Name is the command's snake_case name used in reports and traces.
	Name() string
	apply(ctx context.Context, e *Engine) error
}

// Noop does nothing and counts as a successful command.
type Noop struct{}

// ResetCounters zeroes the housekeeping counters.
type ResetCounters struct{}

// EnableAppMon re-arms and enables the Application Monitor.
type EnableAppMon struct{}

// DisableAppMon stops the Application Monitor.
type DisableAppMon struct{}

// EnableEventMon subscribes to fault events and enables the Event Monitor.
type EnableEventMon struct{}

// DisableEventMon unsubscribes from fault events.
type DisableEventMon struct{}

// EnableAliveness turns on the periodic aliveness output.
type EnableAliveness struct{}

// DisableAliveness turns off the aliveness output.
type DisableAliveness struct{}

// EnableCPUHog turns on CPU hogging detection.
type EnableCPUHog struct{}

// DisableCPUHog turns off CPU hogging detection and clears the indicator.
type DisableCPUHog struct{}

// ClearResetsPerformed zeroes the Reset Guard's performed count.
type ClearResetsPerformed struct{}

// SetMaxResets replaces the Reset Guard's maximum.
type SetMaxResets struct {
	N uint16
}

// SetUtilCalibration replaces the utilization conversion factors.
type SetUtilCalibration struct {
	Mult1, Mult2, Div uint32
}

// SetUtilMask replaces the idle sampler decimation mask.
type SetUtilMask struct {
	Mask uint32
}

// ReportDiagnostics emits the utilization diagnostics report.
type ReportDiagnostics struct{}

// SendHousekeeping passes a housekeeping snapshot to the housekeeping sink.
type SendHousekeeping struct{}

func (Noop) Name() string                 { return "noop" }
func (ResetCounters) Name() string        { return "reset_counters" }
func (EnableAppMon) Name() string         { return "enable_appmon" }
func (DisableAppMon) Name() string        { return "disable_appmon" }
func (EnableEventMon) Name() string       { return "enable_eventmon" }
func (DisableEventMon) Name() string      { return "disable_eventmon" }
func (EnableAliveness) Name() string      { return "enable_aliveness" }
func (DisableAliveness) Name() string     { return "disable_aliveness" }
func (EnableCPUHog) Name() string         { return "enable_cpuhog" }
func (DisableCPUHog) Name() string        { return "disable_cpuhog" }
func (ClearResetsPerformed) Name() string { return "clear_resets_performed" }
func (SetMaxResets) Name() string         { return "set_max_resets" }
func (SetUtilCalibration) Name() string   { return "set_util_calibration" }
func (SetUtilMask) Name() string          { return "set_util_mask" }
func (ReportDiagnostics) Name() string    { return "report_diagnostics" }
func (SendHousekeeping) Name() string     { return "send_housekeeping" }

func (Noop) apply(context.Context, *Engine) error { return nil }

func (ResetCounters) apply(_ context.Context, e *Engine) error {
	e.cmdCount = 0
	e.cmdErrCount = 0
	e.throttle.ResetCount()
	e.eventMon.ResetCounters()
	return nil
}

func (EnableAppMon) apply(_ context.Context, e *Engine) error {
	return e.enableAppMon()
}

func (DisableAppMon) apply(_ context.Context, e *Engine) error {
	e.appMonEnabled = false
	return nil
}

func (EnableEventMon) apply(_ context.Context, e *Engine) error {
	return e.enableEventMon()
}

func (DisableEventMon) apply(_ context.Context, e *Engine) error {
	return e.disableEventMon()
}

func (EnableAliveness) apply(_ context.Context, e *Engine) error {
	e.alivenessEnabled = true
	return nil
}

func (DisableAliveness) apply(_ context.Context, e *Engine) error {
	e.alivenessEnabled = false
	return nil
}

func (EnableCPUHog) apply(_ context.Context, e *Engine) error {
	e.cpuHogEnabled = true
	return nil
}

func (DisableCPUHog) apply(_ context.Context, e *Engine) error {
	e.cpuHogEnabled = false
	e.util.ClearHogging()
	return nil
}

func (ClearResetsPerformed) apply(ctx context.Context, e *Engine) error {
	return e.setResetGuard(ctx, 0, e.guard.State().MaxResets)
}

func (c SetMaxResets) apply(ctx context.Context, e *Engine) error {
	return e.setResetGuard(ctx, e.guard.State().ResetsPerformed, c.N)
}

func (c SetUtilCalibration) apply(_ context.Context, e *Engine) error {
	if err := e.util.SetCalibration(c.Mult1, c.Mult2, c.Div); err != nil {
		return newRuntimeError(ErrCodeInvalidConfig, "utilization", "calibration rejected", err)
	}
	return nil
}

func (c SetUtilMask) apply(_ context.Context, e *Engine) error {
	e.util.SetMask(c.Mask)
	return nil
}

func (ReportDiagnostics) apply(_ context.Context, e *Engine) error {
	d := e.util.Diagnostics()
	var b strings.Builder
	fmt.Fprintf(&b, "utilization diagnostics mask=0x%08X", d.Mask)
	for _, ic := range d.Top {
		fmt.Fprintf(&b, " %d:%d", ic.Interval, ic.Count)
	}
	e.report(ReportUtilDiagnostics, "%s", b.String())
	return nil
}

func (SendHousekeeping) apply(_ context.Context, e *Engine) error {
	if e.hkSink == nil {
		return errors.New("no housekeeping sink configured")
	}
	e.hkSink(e.Housekeeping())
	return nil
}

// Execute runs cmd on the calling goroutine, which must be the foreground
// cycle goroutine (or no cycle may be running). Success increments the
// command counter and failure the command error counter.
func (e *Engine) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.apply(ctx, e); err != nil {
		e.cmdErrCount++
		e.report(ReportCommandFailed, "%s failed: %v", cmd.Name(), err)
		return err
	}

	if _, reset := cmd.(ResetCounters); !reset {
		e.cmdCount++
	}
	e.report(ReportCommand, "%s", cmd.Name())
	return nil
}

// CommandArgs carries the arguments of commands that take any.
type CommandArgs struct {
	N     uint16 `json:"n,omitempty" yaml:"n,omitempty"`
	Mult1 uint32 `json:"mult1,omitempty" yaml:"mult1,omitempty"`
	Mult2 uint32 `json:"mult2,omitempty" yaml:"mult2,omitempty"`
	Div   uint32 `json:"div,omitempty" yaml:"div,omitempty"`
	Mask  uint32 `json:"mask,omitempty" yaml:"mask,omitempty"`
}

// ErrUnknownCommand is returned by NewCommand for an unrecognized name.
var ErrUnknownCommand = errors.New("unknown command")

// NewCommand builds the command called name. Arguments a command does not
// take are ignored.
func NewCommand(name string, args CommandArgs) (Command, error) {
	switch name {
	case "noop":
		return Noop{}, nil
	case "reset_counters":
		return ResetCounters{}, nil
	case "enable_appmon":
		return EnableAppMon{}, nil
	case "disable_appmon":
		return DisableAppMon{}, nil
	case "enable_eventmon":
		return EnableEventMon{}, nil
	case "disable_eventmon":
		return DisableEventMon{}, nil
	case "enable_aliveness":
		return EnableAliveness{}, nil
	case "disable_aliveness":
		return DisableAliveness{}, nil
	case "enable_cpuhog":
		return EnableCPUHog{}, nil
	case "disable_cpuhog":
		return DisableCPUHog{}, nil
	case "clear_resets_performed":
		return ClearResetsPerformed{}, nil
	case "set_max_resets":
		return SetMaxResets{N: args.N}, nil
	case "set_util_calibration":
		return SetUtilCalibration{Mult1: args.Mult1, Mult2: args.Mult2, Div: args.Div}, nil
	case "set_util_mask":
		return SetUtilMask{Mask: args.Mask}, nil
	case "report_diagnostics":
		return ReportDiagnostics{}, nil
	case "send_housekeeping":
		return SendHousekeeping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}
