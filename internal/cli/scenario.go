package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hswatch/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run harness scenarios",
		Long: `Run YAML scenarios against an in-memory engine with fake time.

Each argument is a scenario file or a directory whose *.yaml and *.yml
files are run in name order. With --verbose the engine logs of every
scenario go to stderr.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  hswatch scenario ./scenarios
  hswatch scenario reset_bound.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runScenarios(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	paths, err := harness.ExpandPaths(args)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid scenario path", err)
	}

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(newLogger(opts, cmd.ErrOrStderr())))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.RunFiles(ctx, paths, runOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario run interrupted", err)
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputScenarioText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func outputScenarioText(f *OutputFormatter, result *harness.SuiteResult) {
	if result.Total == 0 {
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return
	}

	for _, failure := range result.Failures {
		name := failure.Scenario
		if name == "" {
			name = failure.Path
		}
		fmt.Fprintf(f.Writer, "✗ %s\n", name)
		for _, e := range failure.Errors {
			fmt.Fprintf(f.Writer, "  %s\n", e)
		}
	}

	fmt.Fprintln(f.Writer)
	fmt.Fprintf(f.Writer, "Total: %d, Passed: %d, Failed: %d\n", result.Total, result.Passed, result.Failed)
}
