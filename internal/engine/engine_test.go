package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hswatch/internal/ir"
)

type rig struct {
	e       *Engine
	reg     mapRegistry
	bus     *recordingBus
	act     *countingActuator
	block   *memBlock
	sub     *scriptedSubscriber
	app     *staticTable[ir.AppMonEntry]
	events  *staticTable[ir.EventRule]
	msgs    *staticTable[ir.MessageAction]
	exec    *staticTable[ir.ExecCounterEntry]
	reports []Report
}

func newRig(t *testing.T, opts ...EngineOption) *rig {
	t.Helper()
	r := &rig{
		reg:   mapRegistry{},
		bus:   &recordingBus{},
		act:   &countingActuator{},
		block: &memBlock{},
		sub:   &scriptedSubscriber{},
		app: newStaticTable(
			ir.AppMonEntry{Name: "WATCHED", CycleLimit: 3, Action: ir.SendMessage(0)},
		),
		events: newStaticTable(
			ir.EventRule{AppName: "NAV", EventID: 7, Action: ir.SendMessage(1)},
		),
		msgs: newStaticTable(
			ir.MessageAction{Enabled: true, Cooldown: 5, Payload: ir.Payload{0x01}},
			ir.MessageAction{Enabled: true, Cooldown: 0, Payload: ir.Payload{0x02}},
		),
		exec: newStaticTable(
			ir.ExecCounterEntry{Name: "WATCHED", Kind: ir.KindAppMain},
			ir.ExecCounterEntry{Name: "SPARE", Kind: ir.KindNone},
			ir.ExecCounterEntry{Name: "MISSING", Kind: ir.KindDevice},
		),
	}

	base := []EngineOption{
		WithLogger(slogt.New(t, slogt.Text())),
		WithBootIDGenerator(NewFixedGenerator("boot-1")),
		WithTimeSource(&manualTime{now: time.Unix(1000, 0)}),
		WithReportSink(func(rep Report) { r.reports = append(r.reports, rep) }),
	}
	e, err := New(r.deps(), append(base, opts...)...)
	require.NoError(t, err)
	r.e = e
	return r
}

func (r *rig) deps() Dependencies {
	return Dependencies{
		Registry:           r.reg,
		Bus:                r.bus,
		Actuator:           r.act,
		Block:              r.block,
		Subscriber:         r.sub,
		AppMonitorTable:    r.app,
		EventMonitorTable:  r.events,
		MessageActionTable: r.msgs,
		ExecCounterTable:   r.exec,
	}
}

func (r *rig) count(id ReportID) int {
	n := 0
	for _, rep := range r.reports {
		if rep.ID == id {
			n++
		}
	}
	return n
}

func (r *rig) ticks(n int) {
	for i := 0; i < n; i++ {
		r.e.Tick(context.Background())
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")
	assert.Contains(t, err.Error(), "message action table is required")
}

func TestNew_RejectsInvalidUtilizationConfig(t *testing.T) {
	r := newRig(t)
	cfg := DefaultUtilizationConfig()
	cfg.Div = 0
	_, err := New(r.deps(), WithUtilizationConfig(cfg))
	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))
}

func TestEngine_InitReportsAndEnables(t *testing.T) {
	r := newRig(t)
	r.e.Init(context.Background())

	assert.Equal(t, 1, r.count(ReportInit))
	assert.Equal(t, "boot-1", r.e.BootID())
	hk := r.e.Housekeeping()
	assert.True(t, hk.AppMonEnabled)
	assert.True(t, hk.EventMonEnabled)
	assert.True(t, hk.StoreInUse)
	assert.Equal(t, DefaultMaxResets, hk.MaxResets)
	assert.Equal(t, []string{"sub:long", "sub:short"}, r.sub.calls)
}

// TestEngine_TimeoutCooldownScenario: one entry {"WATCHED", 3, message 0},
// slot 0 cooldown 5, liveness held at 42. After the first observation the
// action fires at tick 3, the repeat timeout at tick 6 is dropped, and the
// timeout at tick 9 is sent.
func TestEngine_TimeoutCooldownScenario(t *testing.T) {
	r := newRig(t)
	r.reg["WATCHED"] = 42
	r.ticks(1)

	sentAt := map[int]int{}
	for tick := 1; tick <= 9; tick++ {
		r.ticks(1)
		sentAt[tick] = len(r.bus.sent)
	}

	assert.Equal(t, 0, sentAt[2])
	assert.Equal(t, 1, sentAt[3], "first timeout fires at tick 3")
	for tick := 4; tick <= 8; tick++ {
		assert.Equal(t, 1, sentAt[tick], "tick %d", tick)
	}
	assert.Equal(t, 2, sentAt[9], "timeout at tick 9 is sent")
	assert.Equal(t, 3, r.count(ReportAppMonTimeout))
	assert.Equal(t, 1, r.count(ReportMessageDropped))
	assert.Equal(t, uint32(2), r.e.Housekeeping().ActionsExecuted)
}

// TestEngine_ResetBoundScenario: with max resets 2, three timeout-triggered
// resets reach the actuator twice and the third is refused.
func TestEngine_ResetBoundScenario(t *testing.T) {
	r := newRig(t, WithDefaultMaxResets(2))
	r.app.Set(ir.AppMonEntry{Name: "WATCHED", CycleLimit: 1, Action: ir.ProcessorReset()})
	r.reg["WATCHED"] = 42
	r.ticks(1)

	r.ticks(3)
	assert.Equal(t, 2, r.act.calls)
	assert.Equal(t, 2, r.count(ReportResetPerformed))
	assert.Equal(t, 1, r.count(ReportResetRefused))
	assert.Equal(t, uint16(2), r.e.Housekeeping().ResetsPerformed)

	var persisted ir.ResetGuardState
	require.NoError(t, persisted.UnmarshalBinary(r.block.data))
	assert.Equal(t, ir.NewResetGuardState(2, 2), persisted)
	require.Len(t, r.block.journal, 2)
	assert.Equal(t, "boot-1", r.block.journal[0].BootID)
	assert.Equal(t, "appmon:WATCHED", r.block.journal[0].Origin)
}

func TestEngine_ResetGuardSurvivesRestart(t *testing.T) {
	r := newRig(t, WithDefaultMaxResets(1))
	r.app.Set(ir.AppMonEntry{Name: "WATCHED", CycleLimit: 1, Action: ir.ProcessorReset()})
	// WATCHED never resolves, so every tick is a timeout.
	r.ticks(1)
	require.Equal(t, 1, r.act.calls)
	require.Zero(t, r.count(ReportResetRefused))

	// Same block, new engine: the bound still holds.
	restarted, err := New(r.deps(),
		WithLogger(slogt.New(t, slogt.Text())),
		WithBootIDGenerator(NewFixedGenerator("boot-2")),
		WithDefaultMaxResets(1),
		WithReportSink(func(rep Report) { r.reports = append(r.reports, rep) }),
	)
	require.NoError(t, err)
	restarted.Tick(context.Background())
	restarted.Tick(context.Background())

	assert.Equal(t, 1, r.act.calls)
	assert.Equal(t, 2, r.count(ReportResetRefused))
}

func TestEngine_CorruptBlockReportedAtInit(t *testing.T) {
	r := newRig(t)
	r.block.data = []byte{0, 4, 0, 0, 0, 9, 0xFF, 0xF6}
	r.e.Init(context.Background())

	assert.Equal(t, 1, r.count(ReportResetGuardCorrupt))
	hk := r.e.Housekeeping()
	assert.False(t, hk.StoreInUse)
	assert.Zero(t, hk.ResetsPerformed)
	assert.Equal(t, uint16(9), hk.MaxResets)
}

func TestEngine_AppTableLossReportedOncePerTransition(t *testing.T) {
	r := newRig(t)
	r.ticks(1)
	require.True(t, r.e.Housekeeping().AppMonEnabled)

	r.app.Fail()
	r.ticks(5)
	assert.Equal(t, 1, r.count(ReportAppMonTableUnavailable))
	hk := r.e.Housekeeping()
	assert.False(t, hk.AppMonEnabled)
	assert.Equal(t, "unavailable", hk.Tables.AppMon)

	// The table returning does not re-enable the monitor by itself.
	r.app.Set(ir.AppMonEntry{Name: "WATCHED", CycleLimit: 3, Action: ir.SendMessage(0)})
	r.ticks(1)
	assert.False(t, r.e.Housekeeping().AppMonEnabled)

	require.NoError(t, r.e.Execute(context.Background(), EnableAppMon{}))
	assert.True(t, r.e.Housekeeping().AppMonEnabled)

	r.app.Fail()
	r.ticks(2)
	assert.Equal(t, 2, r.count(ReportAppMonTableUnavailable))
}

func TestEngine_TableUnavailableAtInit(t *testing.T) {
	r := newRig(t)
	r.app.Fail()
	r.e.Init(context.Background())
	r.ticks(3)

	assert.Equal(t, 1, r.count(ReportAppMonTableUnavailable))
	assert.False(t, r.e.Housekeeping().AppMonEnabled)

	err := r.e.Execute(context.Background(), EnableAppMon{})
	require.ErrorIs(t, err, ErrTableNotLoaded)
	assert.True(t, HasCode(err, ErrCodeTableUnavailable))
	assert.Equal(t, uint32(1), r.e.Housekeeping().CmdErrCount)
}

func TestEngine_MessageTableLossDisablesBothMonitors(t *testing.T) {
	r := newRig(t)
	r.ticks(1)

	r.msgs.Fail()
	r.ticks(2)
	hk := r.e.Housekeeping()
	assert.False(t, hk.AppMonEnabled)
	assert.False(t, hk.EventMonEnabled)
	assert.Equal(t, 1, r.count(ReportMsgActTableUnavailable))
	assert.Contains(t, r.sub.calls, "unsub:long")
	assert.Contains(t, r.sub.calls, "unsub:short")
}

func TestEngine_EventThroughPipe(t *testing.T) {
	r := newRig(t)
	r.e.Init(context.Background())

	require.True(t, r.e.Enqueue(EventMessage("NAV", 7)))
	require.True(t, r.e.Enqueue(EventMessage("NAV", 8)))

	r.ticks(1)
	assert.Len(t, r.bus.sent, 1, "one message drained per cycle")
	assert.Equal(t, []byte{0x02}, r.bus.sent[0])

	r.ticks(1)
	hk := r.e.Housekeeping()
	assert.Equal(t, uint32(2), hk.EventsMonitored)
	assert.Equal(t, uint32(1), hk.EventMatches)
}

func TestEngine_CommandThroughPipe(t *testing.T) {
	r := newRig(t)
	require.True(t, r.e.Enqueue(CommandMessage(SetMaxResets{N: 7})))
	r.ticks(1)

	hk := r.e.Housekeeping()
	assert.Equal(t, uint16(7), hk.MaxResets)
	assert.Equal(t, uint32(1), hk.CmdCount)
}

func TestEngine_EnableEventMonPartialFailure(t *testing.T) {
	r := newRig(t, WithInitialState(InitialState{}))
	r.e.Init(context.Background())
	r.sub.failSub = map[EventCategory]error{CategoryShort: errInjected}

	err := r.e.Execute(context.Background(), EnableEventMon{})
	require.ErrorIs(t, err, errInjected)
	assert.True(t, HasCode(err, ErrCodeSubscription))
	assert.Equal(t, 1, r.count(ReportSubscribeFailed))

	hk := r.e.Housekeeping()
	assert.False(t, hk.EventMonEnabled)
	assert.Zero(t, hk.CmdCount)
	assert.Equal(t, uint32(1), hk.CmdErrCount)
}

func TestEngine_Commands(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.e.Init(ctx)

	require.NoError(t, r.e.Execute(ctx, Noop{}))
	require.NoError(t, r.e.Execute(ctx, SetMaxResets{N: 3}))
	require.NoError(t, r.e.Execute(ctx, DisableAppMon{}))
	require.NoError(t, r.e.Execute(ctx, DisableEventMon{}))
	require.NoError(t, r.e.Execute(ctx, DisableAliveness{}))
	require.NoError(t, r.e.Execute(ctx, DisableCPUHog{}))
	require.NoError(t, r.e.Execute(ctx, SetUtilMask{Mask: 0x0F}))

	err := r.e.Execute(ctx, SetUtilCalibration{Mult1: 0, Mult2: 1, Div: 1})
	require.Error(t, err)
	assert.True(t, IsInvalidConfig(err))

	hk := r.e.Housekeeping()
	assert.Equal(t, uint32(7), hk.CmdCount)
	assert.Equal(t, uint32(1), hk.CmdErrCount)
	assert.Equal(t, uint16(3), hk.MaxResets)
	assert.False(t, hk.AppMonEnabled)
	assert.False(t, hk.EventMonEnabled)
	assert.False(t, hk.AlivenessEnabled)
	assert.False(t, hk.CPUHogEnabled)
	assert.Equal(t, uint32(0x0F), r.e.Sampler().Mask())

	require.NoError(t, r.e.Execute(ctx, ResetCounters{}))
	hk = r.e.Housekeeping()
	assert.Zero(t, hk.CmdCount)
	assert.Zero(t, hk.CmdErrCount)
}

func TestEngine_ClearResetsPerformed(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.block.data, _ = ir.NewResetGuardState(4, 6).MarshalBinary()
	r.e.Init(ctx)

	require.NoError(t, r.e.Execute(ctx, ClearResetsPerformed{}))
	var persisted ir.ResetGuardState
	require.NoError(t, persisted.UnmarshalBinary(r.block.data))
	assert.Equal(t, ir.NewResetGuardState(0, 6), persisted)
}

func TestEngine_SetMaxResetsPersistFailure(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.e.Init(ctx)
	r.block.writeErr = errInjected

	err := r.e.Execute(ctx, SetMaxResets{N: 9})
	require.ErrorIs(t, err, ErrPersistFailed)
	assert.True(t, HasCode(err, ErrCodePersist))
	assert.Equal(t, 1, r.count(ReportResetGuardPersistFailed))
	assert.False(t, r.e.Housekeeping().StoreInUse)
}

func TestEngine_ReportDiagnostics(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.e.Init(ctx)

	require.NoError(t, r.e.Execute(ctx, ReportDiagnostics{}))
	require.Equal(t, 1, r.count(ReportUtilDiagnostics))
	assert.Contains(t, r.reports[len(r.reports)-2].Message, "mask=0x000000FF")
}

func TestEngine_SendHousekeeping(t *testing.T) {
	ctx := context.Background()
	var got []Housekeeping
	r := newRig(t, WithHousekeepingSink(func(hk Housekeeping) { got = append(got, hk) }))
	r.reg["WATCHED"] = 11
	r.e.Init(ctx)

	require.NoError(t, r.e.Execute(ctx, SendHousekeeping{}))
	require.Len(t, got, 1)
	assert.Equal(t, []ExecCounter{
		{Name: "WATCHED", Kind: ir.KindAppMain, Count: 11},
		{Name: "SPARE", Kind: ir.KindNone, Count: ExecCounterUnknown},
		{Name: "MISSING", Kind: ir.KindDevice, Count: ExecCounterUnknown},
	}, got[0].ExecCounters)
	assert.Equal(t, []uint32{1}, got[0].AppMonEnableMask)
}

func TestEngine_SendHousekeepingWithoutSinkFails(t *testing.T) {
	r := newRig(t)
	require.Error(t, r.e.Execute(context.Background(), SendHousekeeping{}))
}

func TestEngine_Aliveness(t *testing.T) {
	var out bytes.Buffer
	r := newRig(t, WithAliveness(&out, 3))
	r.ticks(9)
	assert.Equal(t, "...", out.String())

	require.NoError(t, r.e.Execute(context.Background(), DisableAliveness{}))
	r.ticks(9)
	assert.Equal(t, "...", out.String())
}

func TestEngine_WatchdogServicedEveryCycle(t *testing.T) {
	wdt := &countingWatchdog{}
	r := newRig(t, WithWatchdogTimer(wdt))
	r.ticks(4)
	assert.Equal(t, 4, wdt.services)

	wdt.err = errInjected
	r.ticks(1)
	assert.Equal(t, 1, r.count(ReportWatchdogServiceFailed))
}

func TestEngine_BeatsSelf(t *testing.T) {
	r := newRig(t)
	reg := &beatRegistry{mapRegistry: mapRegistry{}, beats: map[string]int{}}
	deps := r.deps()
	deps.Registry = reg

	e, err := New(deps, WithLogger(slogt.New(t, slogt.Text())), WithSelfName("HSW"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}
	assert.Equal(t, 3, reg.beats["HSW"])
}

func TestEngine_CPUHogging(t *testing.T) {
	r := newRig(t)
	r.e.Init(context.Background())
	r.e.MarkTimeSync()
	r.e.MarkTimeSync()

	r.ticks(int(DefaultUtilizationConfig().MaxHoggingCycles))
	assert.Zero(t, r.count(ReportCPUHogging))
	r.ticks(1)
	assert.Equal(t, 1, r.count(ReportCPUHogging))
	assert.True(t, r.e.Housekeeping().Utilization.Hogging)

	// Rate limited: the fake clock does not move.
	r.ticks(5)
	assert.Equal(t, 1, r.count(ReportCPUHogging))

	require.NoError(t, r.e.Execute(context.Background(), DisableCPUHog{}))
	assert.False(t, r.e.Housekeeping().Utilization.Hogging)
}

func TestEngine_SendFailureReported(t *testing.T) {
	r := newRig(t)
	r.bus.err = errors.New("bus down")
	r.e.Init(context.Background())
	r.e.OnEvent(context.Background(), ir.FaultEvent{AppName: "NAV", EventID: 7})

	assert.Equal(t, 1, r.count(ReportMessageSendFailed))
	assert.Zero(t, r.e.Housekeeping().ActionsExecuted)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	r := newRig(t, WithPeriods(time.Millisecond, time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.e.Run(ctx) }()
	require.Eventually(t, func() bool { return r.e.Cycle() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, r.e.Enqueue(CommandMessage(Noop{})), "pipe closed after Run returns")
}
