package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
	"github.com/roach88/hswatch/internal/registry"
	"github.com/roach88/hswatch/internal/tables"
	"github.com/roach88/hswatch/internal/testutil"
)

// TickPeriod is how far the harness moves fake time per tick.
const TickPeriod = time.Second

// Harness is the scenario execution engine.
// It drives a real engine against in-memory collaborators with fake time
// and a fixed boot ID, so every run of a scenario yields the same trace.
//
// The harness itself is the engine's bus and reset actuator: both record
// into the trace. A reset request does not restart the engine; scenarios
// restart explicitly with a restart step.
type Harness struct {
	scenario *Scenario
	schema   *tables.Schema
	logger   *slog.Logger
	time     *testutil.FakeTime

	registry   *registry.Registry
	block      *testutil.MemoryBlock
	subscriber *testutil.Subscriber

	appMon   *tables.StaticSource[ir.AppMonEntry]
	eventMon *tables.StaticSource[ir.EventRule]
	msgAct   *tables.StaticSource[ir.MessageAction]
	exec     *tables.StaticSource[ir.ExecCounterEntry]

	engine *engine.Engine
	boot   int
	result *Result
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory collaborators for isolation.
//
// Execution flow:
// 1. Parse and validate the inline tables
// 2. Boot the first engine
// 3. Execute the steps
// 4. Evaluate assertions against the trace and final housekeeping
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	schema, err := tables.DefaultSchema()
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario:   scenario,
		schema:     schema,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		time:       testutil.NewFakeTime(time.Time{}),
		registry:   registry.New(),
		block:      &testutil.MemoryBlock{},
		subscriber: &testutil.Subscriber{},
		appMon:     tables.NewStaticSource[ir.AppMonEntry](nil),
		eventMon:   tables.NewStaticSource[ir.EventRule](nil),
		msgAct:     tables.NewStaticSource[ir.MessageAction](nil),
		result:     NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.setTables(scenario.Tables); err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}

	ctx := context.Background()
	if err := h.start(ctx); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	h.result.Final = h.engine.Housekeeping()
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// start boots a new engine over the shared collaborators.
func (h *Harness) start(ctx context.Context) error {
	h.boot++

	deps := engine.Dependencies{
		Registry:           h.registry,
		Bus:                h,
		Actuator:           h,
		Block:              h.block,
		Subscriber:         h.subscriber,
		AppMonitorTable:    h.appMon,
		EventMonitorTable:  h.eventMon,
		MessageActionTable: h.msgAct,
	}
	if h.exec != nil {
		deps.ExecCounterTable = h.exec
	}

	opts := []engine.EngineOption{
		engine.WithLogger(h.logger),
		engine.WithTimeSource(h.time),
		engine.WithBootIDGenerator(testutil.NewFixedBootID(h.scenario.BootID)),
		engine.WithReportSink(h.record),
	}
	if h.scenario.MaxResets != nil {
		opts = append(opts, engine.WithDefaultMaxResets(*h.scenario.MaxResets))
	}
	if h.scenario.Initial != nil {
		opts = append(opts, engine.WithInitialState(*h.scenario.Initial))
	}

	eng, err := engine.New(deps, opts...)
	if err != nil {
		return fmt.Errorf("boot %d: %w", h.boot, err)
	}
	h.engine = eng
	eng.Init(ctx)

	h.logger.Info("engine booted", "boot", h.boot, "boot_id", eng.BootID())
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	if step.Restart {
		if err := h.start(ctx); err != nil {
			return err
		}
	}

	if err := h.setTables(step.Tables); err != nil {
		return err
	}
	for _, kind := range step.Unavailable {
		h.failTable(kind)
	}

	for name, count := range step.Liveness {
		h.registry.Set(name, ir.KindAppMain, count)
	}

	for _, ev := range step.Events {
		h.engine.Enqueue(engine.EventMessage(ev.AppName, ev.EventID))
	}
	for _, c := range step.Commands {
		cmd, err := engine.NewCommand(c.Name, c.Args)
		if err != nil {
			return err
		}
		h.engine.Enqueue(engine.CommandMessage(cmd))
	}

	for i := 0; i < step.Ticks; i++ {
		for _, name := range step.Alive {
			h.registry.Beat(name)
		}
		h.engine.Tick(ctx)
		h.time.Advance(TickPeriod)
	}
	return nil
}

// setTables parses and installs each given table in load order.
func (h *Harness) setTables(nodes map[tables.Kind]yaml.Node) error {
	for _, kind := range tables.Kinds {
		node, ok := nodes[kind]
		if !ok {
			continue
		}
		data, err := yaml.Marshal(map[string]any{"kind": string(kind), "entries": &node})
		if err != nil {
			return fmt.Errorf("encode %s table: %w", kind, err)
		}

		switch kind {
		case tables.KindAppMon:
			rows, err := tables.Parse[ir.AppMonEntry](h.schema, kind, data)
			if err != nil {
				return err
			}
			h.appMon.Set(rows)
		case tables.KindEventMon:
			rows, err := tables.Parse[ir.EventRule](h.schema, kind, data)
			if err != nil {
				return err
			}
			h.eventMon.Set(rows)
		case tables.KindMsgAct:
			rows, err := tables.Parse[ir.MessageAction](h.schema, kind, data)
			if err != nil {
				return err
			}
			h.msgAct.Set(rows)
		case tables.KindExecCounter:
			rows, err := tables.Parse[ir.ExecCounterEntry](h.schema, kind, data)
			if err != nil {
				return err
			}
			if h.exec == nil {
				h.exec = tables.NewStaticSource(rows)
			} else {
				h.exec.Set(rows)
			}
		}
	}
	return nil
}

func (h *Harness) failTable(kind tables.Kind) {
	const reason = "scenario"
	switch kind {
	case tables.KindAppMon:
		h.appMon.Fail(reason)
	case tables.KindEventMon:
		h.eventMon.Fail(reason)
	case tables.KindMsgAct:
		h.msgAct.Fail(reason)
	case tables.KindExecCounter:
		if h.exec != nil {
			h.exec.Fail(reason)
		}
	}
}

// record is the engine's report sink.
func (h *Harness) record(r engine.Report) {
	h.result.AddReportTrace(h.boot, r.Cycle, r.ID)
}

// Send implements engine.Bus.
func (h *Harness) Send(payload []byte) error {
	text, err := ir.Payload(payload).MarshalText()
	if err != nil {
		return err
	}
	h.result.AddSendTrace(h.boot, h.engine.Cycle(), string(text))
	return nil
}

// PerformProcessorReset implements engine.ResetActuator.
func (h *Harness) PerformProcessorReset() error {
	h.result.AddResetTrace(h.boot, h.engine.Cycle())
	return nil
}
