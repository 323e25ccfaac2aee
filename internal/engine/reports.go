package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// ReportID identifies one kind of engine report (event message).
type ReportID uint16

const (
	ReportInit ReportID = iota + 1
	ReportAppMonTimeout
	ReportAppMonTableUnavailable
	ReportEventMonTableUnavailable
	ReportMsgActTableUnavailable
	ReportExecCounterTableUnavailable
	ReportEventMonMatch
	ReportMessageSent
	ReportMessageDropped
	ReportMessageSendFailed
	ReportResetPerformed
	ReportResetRefused
	ReportResetGuardCorrupt
	ReportResetGuardPersistFailed
	ReportResetActuatorFailed
	ReportSubscribeFailed
	ReportUnsubscribeFailed
	ReportCPUHogging
	ReportUtilDiagnostics
	ReportCommand
	ReportCommandFailed
	ReportWatchdogServiceFailed
)

var reportNames = map[ReportID]string{
	ReportInit:                        "init",
	ReportAppMonTimeout:               "appmon_timeout",
	ReportAppMonTableUnavailable:      "appmon_table_unavailable",
	ReportEventMonTableUnavailable:    "eventmon_table_unavailable",
	ReportMsgActTableUnavailable:      "msgact_table_unavailable",
	ReportExecCounterTableUnavailable: "execcounter_table_unavailable",
	ReportEventMonMatch:               "eventmon_match",
	ReportMessageSent:                 "message_sent",
	ReportMessageDropped:              "message_dropped",
	ReportMessageSendFailed:           "message_send_failed",
	ReportResetPerformed:              "reset_performed",
	ReportResetRefused:                "reset_refused",
	ReportResetGuardCorrupt:           "reset_guard_corrupt",
	ReportResetGuardPersistFailed:     "reset_guard_persist_failed",
	ReportResetActuatorFailed:         "reset_actuator_failed",
	ReportSubscribeFailed:             "subscribe_failed",
	ReportUnsubscribeFailed:           "unsubscribe_failed",
	ReportCPUHogging:                  "cpu_hogging",
	ReportUtilDiagnostics:             "diagnostics",
	ReportCommand:                     "command",
	ReportCommandFailed:               "command_failed",
	ReportWatchdogServiceFailed:       "watchdog_service_failed",
}

// String returns the snake_case name used in logs, metrics and traces.
func (id ReportID) String() string {
	if name, ok := reportNames[id]; ok {
		return name
	}
	return fmt.Sprintf("report(%d)", uint16(id))
}

// ParseReportID returns the ReportID whose String form is name.
func ParseReportID(name string) (ReportID, bool) {
	for id, n := range reportNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Level returns the severity the report is logged at.
func (id ReportID) Level() slog.Level {
	switch id {
	case ReportMessageDropped, ReportCommand:
		return slog.LevelDebug
	case ReportInit, ReportMessageSent, ReportEventMonMatch, ReportUtilDiagnostics:
		return slog.LevelInfo
	case ReportResetRefused, ReportResetGuardCorrupt, ReportResetGuardPersistFailed,
		ReportResetActuatorFailed, ReportMessageSendFailed, ReportWatchdogServiceFailed:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Report is one event raised by the engine.
type Report struct {
	ID      ReportID
	Level   slog.Level
	Cycle   int64
	Message string
}

// ReportSink receives every report after it is logged. Sinks run on the
// foreground cycle goroutine and must not block.
type ReportSink func(Report)

// report logs a report and forwards it to the configured sink.
func (e *Engine) report(id ReportID, format string, args ...any) {
	r := Report{
		ID:      id,
		Level:   id.Level(),
		Cycle:   e.clock.Cycle(),
		Message: fmt.Sprintf(format, args...),
	}

	e.log.LogAttrs(context.Background(), r.Level, r.Message,
		slog.String("eid", id.String()),
		slog.Int64("cycle", r.Cycle),
		slog.String("boot_id", e.bootID),
	)
	reportsTotal.WithLabelValues(id.String()).Inc()

	if e.sink != nil {
		e.sink(r)
	}
}
