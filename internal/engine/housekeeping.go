package engine

import "github.com/roach88/hswatch/internal/ir"

// ExecCounterUnknown is reported for execution counters that cannot be resolved.
const ExecCounterUnknown uint32 = 0xFFFFFFFF

// ExecCounter is one resolved execution counter.
type ExecCounter struct {
	Name  string          `json:"name"`
	Kind  ir.ResourceKind `json:"kind"`
	Count uint32          `json:"count"`
}

// TableStatus is the lease state of each table.
type TableStatus struct {
	AppMon      string `json:"appmon"`
	EventMon    string `json:"eventmon"`
	MsgAct      string `json:"msgact"`
	ExecCounter string `json:"exec_counter"`
}

// Housekeeping is the engine's telemetry snapshot.
type Housekeeping struct {
	BootID string `json:"boot_id"`
	Cycle  int64  `json:"cycle"`

	CmdCount        uint32 `json:"cmd_count"`
	CmdErrCount     uint32 `json:"cmd_err_count"`
	ActionsExecuted uint32 `json:"actions_executed"`
	EventsMonitored uint32 `json:"events_monitored"`
	EventMatches    uint32 `json:"event_matches"`
	PipeDropped     uint32 `json:"pipe_dropped"`

	AppMonEnabled    bool `json:"appmon_enabled"`
	EventMonEnabled  bool `json:"eventmon_enabled"`
	AlivenessEnabled bool `json:"aliveness_enabled"`
	CPUHogEnabled    bool `json:"cpuhog_enabled"`

	Tables     TableStatus `json:"tables"`
	StoreInUse bool        `json:"store_in_use"`

	ResetsPerformed uint16 `json:"resets_performed"`
	MaxResets       uint16 `json:"max_resets"`

	Utilization      UtilizationSnapshot `json:"utilization"`
	AppMonEnableMask []uint32            `json:"appmon_enable_mask"`
	ExecCounters     []ExecCounter       `json:"exec_counters"`
}

// Housekeeping assembles the telemetry snapshot. Foreground only.
func (e *Engine) Housekeeping() Housekeeping {
	monitored, matches := e.eventMon.Counters()
	guard := e.guard.State()

	hk := Housekeeping{
		BootID:           e.bootID,
		Cycle:            e.clock.Cycle(),
		CmdCount:         e.cmdCount,
		CmdErrCount:      e.cmdErrCount,
		ActionsExecuted:  e.throttle.Executed(),
		EventsMonitored:  monitored,
		EventMatches:     matches,
		PipeDropped:      e.pipe.Dropped(),
		AppMonEnabled:    e.appMonEnabled,
		EventMonEnabled:  e.eventMon.Enabled(),
		AlivenessEnabled: e.alivenessEnabled,
		CPUHogEnabled:    e.cpuHogEnabled,
		Tables: TableStatus{
			AppMon:      e.appTable.String(),
			EventMon:    e.eventTable.String(),
			MsgAct:      e.msgActTable.String(),
			ExecCounter: e.execTable.String(),
		},
		StoreInUse:       e.guard.InUse(),
		ResetsPerformed:  guard.ResetsPerformed,
		MaxResets:        guard.MaxResets,
		Utilization:      e.util.Snapshot(),
		AppMonEnableMask: e.appMon.EnabledMask(),
	}

	for _, row := range e.execRows {
		c := ExecCounter{Name: row.Name, Kind: row.Kind, Count: ExecCounterUnknown}
		if row.Kind != ir.KindNone {
			if n, ok := e.deps.Registry.LivenessCount(row.Name, row.Kind); ok {
				c.Count = n
			}
		}
		hk.ExecCounters = append(hk.ExecCounters, c)
	}
	return hk
}
