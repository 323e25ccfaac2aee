package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/hswatch/internal/config"
	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
	"github.com/roach88/hswatch/internal/registry"
	"github.com/roach88/hswatch/internal/store"
	"github.com/roach88/hswatch/internal/tables"
)

// shutdownTimeout bounds how long the HTTP server may take to drain.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string

	// BootIDs allows overriding the boot ID generator (for testing).
	// If nil, the engine uses UUIDv7Generator.
	BootIDs engine.BootIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog",
		Long: `Run the hswatch engine with the given configuration.

Bus messages, reports and housekeeping snapshots are written to stdout as
JSON lines; logs go to stderr. Liveness beats, fault events and commands
arrive over HTTP on metrics_addr:

  POST /beat/{name}?kind=app-main
  POST /event            {"app_name": "...", "event_id": 7}
  POST /command/{name}   {"n": 3}
  GET  /housekeeping
  GET  /metrics

When the engine performs a processor reset the command exits with code 3
so that a supervisor restarts it.

Example:
  hswatch run --config /etc/hswatch/hswatch.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// watchable is a table source that follows its file.
type watchable interface {
	Watch(ctx context.Context, debounce time.Duration) error
}

func runWatchdog(opts *RunOptions, cmd *cobra.Command) error {
	log := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(log)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	schema, err := tables.DefaultSchema()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compile table schema", err)
	}

	log.Info("opening store", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parentCtx)
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel(nil)
		case <-ctx.Done():
		}
	}()

	reg := registry.New()
	bus := newLineBus(cmd.OutOrStdout())
	gate := &eventGate{}
	actuator := &resetActuator{cancel: cancel}

	appSrc := tables.NewFileSource[ir.AppMonEntry](schema, tables.KindAppMon, cfg.Tables.Path(tables.KindAppMon), log)
	eventSrc := tables.NewFileSource[ir.EventRule](schema, tables.KindEventMon, cfg.Tables.Path(tables.KindEventMon), log)
	msgSrc := tables.NewFileSource[ir.MessageAction](schema, tables.KindMsgAct, cfg.Tables.Path(tables.KindMsgAct), log)
	watched := []watchable{appSrc, eventSrc, msgSrc}

	deps := engine.Dependencies{
		Registry:           reg,
		Bus:                bus,
		Actuator:           actuator,
		Block:              st.Block(store.ResetGuardBlock),
		Subscriber:         gate,
		AppMonitorTable:    appSrc,
		EventMonitorTable:  eventSrc,
		MessageActionTable: msgSrc,
	}
	if execPath := cfg.Tables.Path(tables.KindExecCounter); fileExists(execPath) {
		execSrc := tables.NewFileSource[ir.ExecCounterEntry](schema, tables.KindExecCounter, execPath, log)
		deps.ExecCounterTable = execSrc
		watched = append(watched, execSrc)
	}

	engineOpts := append(cfg.EngineOptions(cmd.ErrOrStderr()),
		engine.WithLogger(log),
		engine.WithReportSink(bus.report),
		engine.WithHousekeepingSink(bus.housekeeping),
	)
	if opts.BootIDs != nil {
		engineOpts = append(engineOpts, engine.WithBootIDGenerator(opts.BootIDs))
	}
	eng, err := engine.New(deps, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return engine.NewIdleTask(eng.Sampler()).Run(gctx) })

	if cfg.Tables.Watch {
		for _, src := range watched {
			g.Go(func() error { return src.Watch(gctx, tables.DefaultDebounce) })
		}
	}

	if cfg.HousekeepingPeriod > 0 {
		g.Go(func() error { return sendHousekeeping(gctx, eng, cfg.HousekeepingPeriod, log) })
	}

	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		if err := promReg.Register(reg); err != nil {
			return WrapExitError(ExitFailure, "failed to register liveness collector", err)
		}
		srv := &server{
			eng:    eng,
			reg:    reg,
			gate:   gate,
			bus:    bus,
			gather: prometheus.Gatherers{prometheus.DefaultGatherer, promReg},
			log:    log,
		}
		serve(gctx, g, cfg.MetricsAddr, srv.routes(), log)
	}

	log.Info("watchdog started", "config", opts.ConfigPath, "tables", cfg.Tables.Dir)

	err = g.Wait()

	var resetErr *ProcessorResetError
	if errors.As(context.Cause(ctx), &resetErr) {
		log.Warn("processor reset requested, exiting", "exit_code", ExitProcessorReset)
		return WrapExitError(ExitProcessorReset, "processor reset requested", resetErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "watchdog error", err)
	}

	log.Info("watchdog stopped gracefully")
	return nil
}

// serve runs handler on addr under g and shuts it down when ctx is done.
func serve(ctx context.Context, g *errgroup.Group, addr string, handler http.Handler, log *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: shutdownTimeout,
	}

	g.Go(func() error {
		log.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// sendHousekeeping enqueues a housekeeping request every period.
func sendHousekeeping(ctx context.Context, eng *engine.Engine, period time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !eng.Enqueue(engine.CommandMessage(engine.SendHousekeeping{})) {
				log.Debug("housekeeping request dropped")
			}
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
