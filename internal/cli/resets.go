package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/ir"
	"github.com/roach88/hswatch/internal/store"
)

// ResetsOptions holds flags for the resets command group.
type ResetsOptions struct {
	*RootOptions
	Database string
	Limit    int
	WithLog  bool
}

// ResetGuardStatus describes the persisted Reset Guard block.
type ResetGuardStatus struct {
	Present         bool   `json:"present"`
	Valid           bool   `json:"valid"`
	ResetsPerformed uint16 `json:"resets_performed"`
	MaxResets       uint16 `json:"max_resets"`
	Writes          int64  `json:"writes"`
	Problem         string `json:"problem,omitempty"`
}

// NewResetsCommand creates the resets command group.
func NewResetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resets",
		Short: "Inspect or change the persisted reset guard",
		Long: `Inspect or change the Reset Guard block kept in the store.

Changes made here are read by the engine at its next start; a running
engine keeps its in-memory copy and is changed with the
clear_resets_performed and set_max_resets commands instead.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	showCmd := &cobra.Command{
		Use:           "show",
		Short:         "Show the reset guard block",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, runResetsShow)
		},
	}

	setMaxCmd := &cobra.Command{
		Use:           "set-max <n>",
		Short:         "Set the maximum number of processor resets",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("%s: invalid max resets %q", ErrCodeInvalidArgs, args[0]), err)
			}
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runResetsSetMax(ctx, st, f, uint16(n))
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:           "clear",
		Short:         "Clear the processor resets performed counter",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runResetsClear(ctx, st, f, opts.WithLog)
			})
		},
	}
	clearCmd.Flags().BoolVar(&opts.WithLog, "log", false, "also delete the reset journal")

	logCmd := &cobra.Command{
		Use:           "log",
		Short:         "List journaled processor resets",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runResetsLog(ctx, st, f, opts.Limit)
			})
		},
	}
	logCmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to list (0 = all)")

	cmd.AddCommand(showCmd, setMaxCmd, clearCmd, logCmd)
	return cmd
}

// withStore opens the database, runs fn and closes it again.
func withStore(opts *ResetsOptions, cmd *cobra.Command, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to open store", err.Error())
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st, formatter)
}

// readGuard returns the persisted state and its status. A missing block is
// not an error.
func readGuard(ctx context.Context, st *store.Store) (ir.ResetGuardState, ResetGuardStatus, error) {
	block := st.Block(store.ResetGuardBlock)

	var state ir.ResetGuardState
	data, err := block.ReadBlock(ctx)
	if errors.Is(err, engine.ErrBlockNotFound) {
		return state, ResetGuardStatus{}, nil
	}
	if err != nil {
		return state, ResetGuardStatus{}, err
	}

	status := ResetGuardStatus{Present: true}
	if status.Writes, err = block.Writes(ctx); err != nil {
		return state, status, err
	}
	if err := state.UnmarshalBinary(data); err != nil {
		status.Problem = err.Error()
		return state, status, nil
	}
	status.ResetsPerformed = state.ResetsPerformed
	status.MaxResets = state.MaxResets
	if err := state.Validate(); err != nil {
		status.Problem = err.Error()
		return state, status, nil
	}
	status.Valid = true
	return state, status, nil
}

func writeGuard(ctx context.Context, st *store.Store, state ir.ResetGuardState) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	return st.Block(store.ResetGuardBlock).WriteBlock(ctx, data)
}

func runResetsShow(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	_, status, err := readGuard(ctx, st)
	if err != nil {
		_ = f.Error(ErrCodeStore, "failed to read reset guard", err.Error())
		return WrapExitError(ExitCommandError, "failed to read reset guard", err)
	}
	if f.JSON() {
		return f.Success(status)
	}
	printGuard(f, status)
	return nil
}

func printGuard(f *OutputFormatter, status ResetGuardStatus) {
	if !status.Present {
		fmt.Fprintln(f.Writer, "No reset guard block (defaults apply at next start)")
		return
	}
	fmt.Fprintf(f.Writer, "Resets performed: %d\n", status.ResetsPerformed)
	fmt.Fprintf(f.Writer, "Max resets:       %d\n", status.MaxResets)
	fmt.Fprintf(f.Writer, "Writes:           %d\n", status.Writes)
	if !status.Valid {
		fmt.Fprintf(f.Writer, "Block corrupt:    %s\n", status.Problem)
	}
}

// runResetsSetMax keeps the performed count when the stored one validates.
func runResetsSetMax(ctx context.Context, st *store.Store, f *OutputFormatter, n uint16) error {
	state, _, err := readGuard(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read reset guard", err)
	}
	var performed uint16
	if state.PerformedValid() {
		performed = state.ResetsPerformed
	}
	return updateGuard(ctx, st, f, ir.NewResetGuardState(performed, n))
}

// runResetsClear keeps the max when the stored one validates, else the
// engine default applies.
func runResetsClear(ctx context.Context, st *store.Store, f *OutputFormatter, withLog bool) error {
	state, status, err := readGuard(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read reset guard", err)
	}
	maxResets := engine.DefaultMaxResets
	if status.Present && state.MaxValid() {
		maxResets = state.MaxResets
	}
	if withLog {
		if err := st.ClearResetLog(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to clear reset journal", err)
		}
		f.Logf("reset journal cleared")
	}
	return updateGuard(ctx, st, f, ir.NewResetGuardState(0, maxResets))
}

func updateGuard(ctx context.Context, st *store.Store, f *OutputFormatter, state ir.ResetGuardState) error {
	if err := writeGuard(ctx, st, state); err != nil {
		_ = f.Error(ErrCodeStore, "failed to write reset guard", err.Error())
		return WrapExitError(ExitCommandError, "failed to write reset guard", err)
	}
	return runResetsShow(ctx, st, f)
}

func runResetsLog(ctx context.Context, st *store.Store, f *OutputFormatter, limit int) error {
	records, err := st.ResetLog(ctx, limit)
	if err != nil {
		_ = f.Error(ErrCodeStore, "failed to read reset journal", err.Error())
		return WrapExitError(ExitCommandError, "failed to read reset journal", err)
	}
	if f.JSON() {
		return f.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(f.Writer, "No processor resets recorded")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(f.Writer, "%s cycle=%d origin=%s performed=%d/%d\n",
			rec.BootID, rec.Cycle, rec.Origin, rec.State.ResetsPerformed, rec.State.MaxResets)
	}
	return nil
}
