package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/hswatch/internal/ir"
)

// Engine is the watchdog's single-writer cycle orchestrator.
//
// Engine owns every monitor, the throttler and the Reset Guard. All of them
// are mutated only by Tick, Execute and OnEvent, which must run on one
// goroutine (normally Run). Producers on other goroutines use Enqueue.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(), Tick(), Execute(), OnEvent(), Housekeeping(): foreground only
//   - Sampler(): safe from any goroutine (atomic words)
type Engine struct {
	deps  Dependencies
	log   *slog.Logger
	clock *Clock
	time  TimeSource

	bootGen BootIDGenerator
	bootID  string
	sink    ReportSink
	hkSink  func(Housekeeping)
	pipe    *messagePipe
	wdt     WatchdogTimer

	selfName    string
	aliveOut    io.Writer
	alivePeriod uint32
	aliveCount  uint32

	cyclePeriod time.Duration
	syncPeriod  time.Duration

	appMon   *AppMonitor
	eventMon *EventMonitor
	throttle *Throttler
	guard    *ResetGuard
	sampler  *IdleSampler
	util     *UtilizationMonitor

	utilCfg    UtilizationConfig
	defaultMax uint16
	pipeDepth  int
	initial    InitialState

	appMonEnabled    bool
	alivenessEnabled bool
	cpuHogEnabled    bool

	appTable    tableState
	eventTable  tableState
	msgActTable tableState
	execTable   tableState
	execRows    []ir.ExecCounterEntry

	cmdCount    uint32
	cmdErrCount uint32
	initialized bool
}

// Dependencies are the external collaborators the engine drives.
// ExecCounterTable is optional; all others are required.
type Dependencies struct {
	Registry           LivenessRegistry
	Bus                Bus
	Actuator           ResetActuator
	Block              PersistentBlock
	Subscriber         EventSubscriber
	AppMonitorTable    TableSource[ir.AppMonEntry]
	EventMonitorTable  TableSource[ir.EventRule]
	MessageActionTable TableSource[ir.MessageAction]
	ExecCounterTable   TableSource[ir.ExecCounterEntry]
}

func (d Dependencies) validate() error {
	var err error
	if d.Registry == nil {
		err = errors.Join(err, errors.New("registry is required"))
	}
	if d.Bus == nil {
		err = errors.Join(err, errors.New("bus is required"))
	}
	if d.Actuator == nil {
		err = errors.Join(err, errors.New("reset actuator is required"))
	}
	if d.Block == nil {
		err = errors.Join(err, errors.New("persistent block is required"))
	}
	if d.Subscriber == nil {
		err = errors.Join(err, errors.New("event subscriber is required"))
	}
	if d.AppMonitorTable == nil {
		err = errors.Join(err, errors.New("application monitor table is required"))
	}
	if d.EventMonitorTable == nil {
		err = errors.Join(err, errors.New("event monitor table is required"))
	}
	if d.MessageActionTable == nil {
		err = errors.Join(err, errors.New("message action table is required"))
	}
	return err
}

// InitialState selects which monitors Init enables.
type InitialState struct {
	AppMon    bool `json:"appmon" yaml:"appmon"`
	EventMon  bool `json:"eventmon" yaml:"eventmon"`
	Aliveness bool `json:"aliveness" yaml:"aliveness"`
	CPUHog    bool `json:"cpuhog" yaml:"cpuhog"`
}

// DefaultInitialState enables everything.
func DefaultInitialState() InitialState {
	return InitialState{AppMon: true, EventMon: true, Aliveness: true, CPUHog: true}
}

const (
	// DefaultCyclePeriod is the wakeup period of Run.
	DefaultCyclePeriod = time.Second
	// DefaultTimeSyncPeriod is the period of the time-sync signal driving Mark.
	DefaultTimeSyncPeriod = time.Second
	// DefaultAlivenessPeriod is how many cycles pass between aliveness dots.
	DefaultAlivenessPeriod = 10
	// DefaultSelfName is the registry name the engine beats each cycle.
	DefaultSelfName = "HS"
)

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithTimeSource sets the wall clock used by the idle sampler and the
// hogging report limiter.
func WithTimeSource(ts TimeSource) EngineOption {
	return func(e *Engine) {
		e.time = ts
	}
}

// WithBootIDGenerator sets the boot ID generator. Default: UUIDv7Generator.
func WithBootIDGenerator(g BootIDGenerator) EngineOption {
	return func(e *Engine) {
		e.bootGen = g
	}
}

// WithReportSink forwards every report to sink after it is logged.
func WithReportSink(sink ReportSink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithHousekeepingSink receives the snapshot built by SendHousekeeping.
func WithHousekeepingSink(sink func(Housekeeping)) EngineOption {
	return func(e *Engine) {
		e.hkSink = sink
	}
}

// WithAliveness writes one '.' to w every period cycles while aliveness
// output is enabled.
func WithAliveness(w io.Writer, period uint32) EngineOption {
	return func(e *Engine) {
		e.aliveOut = w
		e.alivePeriod = period
	}
}

// WithUtilizationConfig sets the utilization calibration. Validated by New.
func WithUtilizationConfig(cfg UtilizationConfig) EngineOption {
	return func(e *Engine) {
		e.utilCfg = cfg
	}
}

// WithDefaultMaxResets sets the maximum used when no valid persisted one exists.
func WithDefaultMaxResets(n uint16) EngineOption {
	return func(e *Engine) {
		e.defaultMax = n
	}
}

// WithWatchdogTimer services w once per cycle.
func WithWatchdogTimer(w WatchdogTimer) EngineOption {
	return func(e *Engine) {
		e.wdt = w
	}
}

// WithInitialState selects the monitors enabled by Init.
// Default: DefaultInitialState().
func WithInitialState(s InitialState) EngineOption {
	return func(e *Engine) {
		e.initial = s
	}
}

// WithSelfName sets the name the engine beats on a Beater registry.
func WithSelfName(name string) EngineOption {
	return func(e *Engine) {
		e.selfName = name
	}
}

// WithPipeDepth bounds the message pipe. Default: DefaultPipeDepth.
func WithPipeDepth(n int) EngineOption {
	return func(e *Engine) {
		e.pipeDepth = n
	}
}

// WithPeriods sets the Run cycle and time-sync periods.
func WithPeriods(cycle, timeSync time.Duration) EngineOption {
	return func(e *Engine) {
		e.cyclePeriod = cycle
		e.syncPeriod = timeSync
	}
}

// New creates an engine. Call Init (or Run, which calls it) before Tick.
func New(deps Dependencies, opts ...EngineOption) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("engine dependencies: %w", err)
	}

	e := &Engine{
		deps:        deps,
		log:         slog.Default(),
		clock:       NewClock(),
		time:        SystemTime(),
		bootGen:     UUIDv7Generator{},
		selfName:    DefaultSelfName,
		alivePeriod: DefaultAlivenessPeriod,
		cyclePeriod: DefaultCyclePeriod,
		syncPeriod:  DefaultTimeSyncPeriod,
		utilCfg:     DefaultUtilizationConfig(),
		defaultMax:  DefaultMaxResets,
		initial:     DefaultInitialState(),
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}

	if err := e.utilCfg.Validate(); err != nil {
		return nil, newRuntimeError(ErrCodeInvalidConfig, "utilization", "invalid utilization config", err)
	}
	if e.cyclePeriod <= 0 || e.syncPeriod <= 0 {
		return nil, newRuntimeError(ErrCodeInvalidConfig, "engine", "periods must be positive", nil)
	}

	e.pipe = newMessagePipe(e.pipeDepth)
	e.appMon = NewAppMonitor()
	e.eventMon = NewEventMonitor()
	e.throttle = NewThrottler()
	e.guard = NewResetGuard(deps.Block, e.defaultMax, e.log)
	e.sampler = NewIdleSampler(e.time, e.utilCfg.Mask)
	e.util = NewUtilizationMonitor(e.utilCfg, e.sampler)
	return e, nil
}

// Sampler returns the idle sampler fed by the engine's IdleTask.
func (e *Engine) Sampler() *IdleSampler { return e.sampler }

// BootID returns the identifier of this engine lifetime. Empty before Init.
func (e *Engine) BootID() string { return e.bootID }

// Cycle returns the number of completed cycles. Safe from any goroutine.
func (e *Engine) Cycle() int64 { return e.clock.Cycle() }

// Init loads the Reset Guard, acquires the tables and applies the initial
// monitor states. Init never fails: every problem is reported and leaves the
// affected part disabled or defaulted.
func (e *Engine) Init(ctx context.Context) {
	if e.initialized {
		return
	}
	e.initialized = true
	e.bootID = e.bootGen.Generate()

	if err := e.guard.Load(ctx); err != nil {
		if errors.Is(err, ErrResetGuardCorrupt) {
			e.report(ReportResetGuardCorrupt, "reset guard block corrupt, performed count reset: %v", err)
		} else {
			e.report(ReportResetGuardPersistFailed, "reset guard block unavailable: %v", err)
		}
	}
	resetsPerformed.Set(float64(e.guard.State().ResetsPerformed))

	e.acquireTables()

	if e.initial.AppMon {
		if err := e.enableAppMon(); err != nil {
			e.log.Warn("application monitor not enabled", "error", err)
		}
	}
	if e.initial.EventMon {
		if err := e.enableEventMon(); err != nil {
			e.log.Warn("event monitor not enabled", "error", err)
		}
	}
	e.alivenessEnabled = e.initial.Aliveness
	e.cpuHogEnabled = e.initial.CPUHog

	e.report(ReportInit, "hswatch %s initialized", ir.EngineVersion)
}

// Enqueue submits a fault event or command for step 6 of a later cycle.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the pipe is full or the engine has stopped.
func (e *Engine) Enqueue(m Message) bool {
	return e.pipe.Enqueue(m)
}

// Run drives Tick on every cycle period and Mark on every time-sync period
// until ctx is done. It returns ctx.Err().
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.Init(ctx)
	e.log.Info("engine starting",
		"boot_id", e.bootID,
		"cycle_period", e.cyclePeriod,
		"time_sync_period", e.syncPeriod,
	)
	defer e.pipe.Close()

	cycle := time.NewTicker(e.cyclePeriod)
	defer cycle.Stop()
	timeSync := time.NewTicker(e.syncPeriod)
	defer timeSync.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping", "cycle", e.clock.Cycle())
			return ctx.Err()
		case <-timeSync.C:
			e.util.Mark()
		case <-cycle.C:
			e.Tick(ctx)
		}
	}
}

// MarkTimeSync handles one time-sync signal on the foreground goroutine.
// Run calls it on its own ticker; callers driving Tick directly call it
// themselves.
func (e *Engine) MarkTimeSync() {
	e.util.Mark()
}

// Tick runs one cycle. It never blocks and never fails; see the package
// documentation for the step order.
func (e *Engine) Tick(ctx context.Context) {
	e.Init(ctx)
	start := time.Now()
	e.clock.Advance()

	// 1. Table leases
	e.acquireTables()

	// 2. Application Monitor
	if e.appMonEnabled {
		e.appMon.TickAll(e.deps.Registry, func(i int, entry ir.AppMonEntry) {
			e.report(ReportAppMonTimeout, "application %q (slot %d) made no progress for %d cycles, action %s",
				entry.Name, i, entry.CycleLimit, entry.Action)
			e.fire(ctx, entry.Action, "appmon:"+entry.Name)
		})
	}

	// 3. Utilization and hogging
	if e.util.Cycle(e.time.Now(), e.cpuHogEnabled) {
		snap := e.util.Snapshot()
		e.report(ReportCPUHogging, "CPU hogging: utilization %d above %d for %d cycles",
			snap.Current, e.utilCfg.HoggingThreshold, snap.HoggingCycles)
	}
	recordUtilization(e.util.Snapshot())

	// 4. Cooldowns
	e.throttle.Tick()

	// 5. External watchdog timer
	if e.wdt != nil {
		if err := e.wdt.Service(); err != nil {
			e.report(ReportWatchdogServiceFailed, "watchdog timer service failed: %v", err)
		}
	}
	e.aliveness()
	if b, ok := e.deps.Registry.(Beater); ok {
		b.Beat(e.selfName)
	}

	// 6. One pipe message
	if m, ok := e.pipe.TryDequeue(); ok {
		e.dispatch(ctx, m)
	}

	cyclesTotal.Inc()
	cycleDuration.Observe(time.Since(start).Seconds())
}

func (e *Engine) dispatch(ctx context.Context, m Message) {
	switch {
	case m.Event != nil:
		e.OnEvent(ctx, *m.Event)
	case m.Command != nil:
		_ = e.Execute(ctx, m.Command)
	}
}

// OnEvent matches one fault event against the event rule table and fires
// every matching action. Foreground only; other goroutines use Enqueue.
func (e *Engine) OnEvent(ctx context.Context, ev ir.FaultEvent) {
	e.eventMon.OnEvent(ev, func(i int, rule ir.EventRule) {
		e.report(ReportEventMonMatch, "event %d from %q matched rule %d, action %s",
			ev.EventID, ev.AppName, i, rule.Action)
		e.fire(ctx, rule.Action, fmt.Sprintf("eventmon:%s/%d", rule.AppName, rule.EventID))
	})
}

// fire routes an action to the throttler or the Reset Guard.
func (e *Engine) fire(ctx context.Context, a ir.ActionRef, origin string) {
	switch a.Kind {
	case ir.ActionNone:
	case ir.ActionProcessorReset:
		e.requestReset(ctx, origin)
	case ir.ActionSendMessage:
		e.sendMessage(a.Slot, origin)
	}
}

func (e *Engine) sendMessage(slot int, origin string) {
	err := e.throttle.Dispatch(slot, e.deps.Bus.Send)
	switch {
	case err == nil:
		actionsTotal.WithLabelValues("message", "sent").Inc()
		if row, _ := e.throttle.Slot(slot); !row.Quiet {
			e.report(ReportMessageSent, "message action %d sent for %s", slot, origin)
		}
	case errors.Is(err, ErrCoolingDown), errors.Is(err, ErrSlotDisabled), errors.Is(err, ErrSlotOutOfRange):
		actionsTotal.WithLabelValues("message", "dropped").Inc()
		e.report(ReportMessageDropped, "message action for %s dropped: %v", origin, err)
	default:
		actionsTotal.WithLabelValues("message", "failed").Inc()
		e.report(ReportMessageSendFailed, "message action for %s failed: %v", origin, err)
	}
}

func (e *Engine) requestReset(ctx context.Context, origin string) {
	rec := ResetRecord{BootID: e.bootID, Cycle: e.clock.Cycle(), Origin: origin}
	err := e.guard.RequestReset(ctx, rec, e.deps.Actuator)
	resetsPerformed.Set(float64(e.guard.State().ResetsPerformed))

	state := e.guard.State()
	switch {
	case err == nil:
		actionsTotal.WithLabelValues("reset", "performed").Inc()
		e.report(ReportResetPerformed, "processor reset %d of %d requested by %s",
			state.ResetsPerformed, state.MaxResets, origin)
	case errors.Is(err, ErrResetLimitReached):
		actionsTotal.WithLabelValues("reset", "refused").Inc()
		e.report(ReportResetRefused, "processor reset requested by %s refused: %d of %d performed",
			origin, state.ResetsPerformed, state.MaxResets)
	case errors.Is(err, ErrPersistFailed):
		actionsTotal.WithLabelValues("reset", "refused").Inc()
		e.report(ReportResetGuardPersistFailed, "processor reset requested by %s refused: %v", origin, err)
	default:
		actionsTotal.WithLabelValues("reset", "failed").Inc()
		e.report(ReportResetActuatorFailed, "processor reset requested by %s failed: %v", origin, err)
	}
}

func (e *Engine) aliveness() {
	if !e.alivenessEnabled || e.aliveOut == nil || e.alivePeriod == 0 {
		return
	}
	e.aliveCount++
	if e.aliveCount < e.alivePeriod {
		return
	}
	e.aliveCount = 0
	if _, err := io.WriteString(e.aliveOut, "."); err != nil {
		e.log.Debug("aliveness write failed", "error", err)
	}
}

func (e *Engine) enableAppMon() error {
	if e.appTable != tableLoaded || e.msgActTable != tableLoaded {
		return newRuntimeError(ErrCodeTableUnavailable, "appmon", "cannot enable application monitor", ErrTableNotLoaded)
	}
	e.appMon.Rearm()
	e.appMonEnabled = true
	return nil
}

func (e *Engine) enableEventMon() error {
	if e.eventTable != tableLoaded || e.msgActTable != tableLoaded {
		return newRuntimeError(ErrCodeTableUnavailable, "eventmon", "cannot enable event monitor", ErrTableNotLoaded)
	}
	if err := e.eventMon.Enable(e.deps.Subscriber); err != nil {
		e.report(ReportSubscribeFailed, "event monitor subscription failed: %v", err)
		return newRuntimeError(ErrCodeSubscription, "eventmon", "subscribe failed", err)
	}
	return nil
}

func (e *Engine) disableEventMon() error {
	if err := e.eventMon.Disable(e.deps.Subscriber); err != nil {
		e.report(ReportUnsubscribeFailed, "event monitor unsubscription failed: %v", err)
		return newRuntimeError(ErrCodeSubscription, "eventmon", "unsubscribe failed", err)
	}
	return nil
}

// stopEventMon disables the Event Monitor after its table is lost. Matching
// stops even when unsubscribing fails.
func (e *Engine) stopEventMon() {
	if !e.eventMon.Enabled() {
		return
	}
	if err := e.disableEventMon(); err != nil {
		e.eventMon.forceDisable()
	}
}

func (e *Engine) setResetGuard(ctx context.Context, performed, maxResets uint16) error {
	err := e.guard.Set(ctx, performed, maxResets)
	resetsPerformed.Set(float64(e.guard.State().ResetsPerformed))
	if err != nil {
		e.report(ReportResetGuardPersistFailed, "reset guard update not persisted: %v", err)
		return newRuntimeError(ErrCodePersist, "resetguard", "update not persisted", err)
	}
	return nil
}

// tableState tracks one table lease across cycles so loss is reported once
// per transition.
type tableState uint8

const (
	tableUnknown tableState = iota
	tableLoaded
	tableUnavailable
)

func (s tableState) String() string {
	switch s {
	case tableLoaded:
		return "loaded"
	case tableUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// lease acquires src and advances state. refresh is set when the rows must
// be reinstalled; lost is set on the transition to unavailable.
func lease[T any](src TableSource[T], state *tableState) (rows []T, refresh, lost bool, err error) {
	rows, changed, err := src.Acquire()
	if err != nil {
		lost = *state != tableUnavailable
		*state = tableUnavailable
		return nil, false, lost, err
	}
	refresh = changed || *state != tableLoaded
	*state = tableLoaded
	return rows, refresh, false, nil
}

// acquireTables reacquires every table lease. A lost table disables the
// monitors depending on it; a changed table refreshes them.
func (e *Engine) acquireTables() {
	msgRows, refresh, lost, err := lease(e.deps.MessageActionTable, &e.msgActTable)
	switch {
	case lost:
		e.appMonEnabled = false
		e.stopEventMon()
		e.throttle.Refresh(nil)
		e.report(ReportMsgActTableUnavailable,
			"message action table unavailable, application and event monitors disabled: %v", err)
	case refresh:
		e.throttle.Refresh(msgRows)
	}

	appRows, refresh, lost, err := lease(e.deps.AppMonitorTable, &e.appTable)
	switch {
	case lost:
		e.appMonEnabled = false
		e.appMon.Refresh(nil)
		e.report(ReportAppMonTableUnavailable, "application monitor table unavailable, monitor disabled: %v", err)
	case refresh:
		e.appMon.Refresh(appRows)
	}

	eventRows, refresh, lost, err := lease(e.deps.EventMonitorTable, &e.eventTable)
	switch {
	case lost:
		e.stopEventMon()
		e.eventMon.Refresh(nil)
		e.report(ReportEventMonTableUnavailable, "event monitor table unavailable, monitor disabled: %v", err)
	case refresh:
		e.eventMon.Refresh(eventRows)
	}

	if e.deps.ExecCounterTable == nil {
		return
	}
	execRows, refresh, lost, err := lease(e.deps.ExecCounterTable, &e.execTable)
	switch {
	case lost:
		e.execRows = nil
		e.report(ReportExecCounterTableUnavailable, "execution counter table unavailable: %v", err)
	case refresh:
		e.execRows = slices.Clone(execRows)
	}
}
