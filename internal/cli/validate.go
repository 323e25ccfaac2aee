package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hswatch/internal/tables"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Counts *TableCounts `json:"counts,omitempty"`
	Errors []TableIssue `json:"errors,omitempty"`
}

// TableCounts is the number of rows loaded per table.
type TableCounts struct {
	AppMon      int `json:"appmon"`
	EventMon    int `json:"eventmon"`
	MsgAct      int `json:"msgact"`
	ExecCounter int `json:"execcounter"`
}

// TableIssue is one problem found in a tables directory.
type TableIssue struct {
	Code    string   `json:"code"`
	Table   string   `json:"table,omitempty"`
	Path    string   `json:"path,omitempty"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <tables-dir>",
		Short: "Validate table files",
		Long: `Load and validate every table file in a directory.

Each file is checked against the table schema (field types, capacities,
action syntax), then the monitor tables are checked for message action
slots the message action table does not define. The execution counter
table is optional.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("tables directory not found: %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: tables directory not found: %s", ErrCodeNotFound, dir))
	}

	schema, err := tables.DefaultSchema()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to compile table schema", err)
	}

	formatter.Logf("Validating tables in %s", dir)
	set, err := tables.LoadDir(schema, dir)
	if err != nil {
		return outputValidationErrors(formatter, tableIssues(err))
	}

	counts := &TableCounts{
		AppMon:      len(set.AppMon),
		EventMon:    len(set.EventMon),
		MsgAct:      len(set.MsgAct),
		ExecCounter: len(set.ExecCounter),
	}
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Counts: counts})
	}

	fmt.Fprintln(formatter.Writer, "✓ All tables valid")
	formatter.Logf("appmon=%d eventmon=%d msgact=%d execcounter=%d",
		counts.AppMon, counts.EventMon, counts.MsgAct, counts.ExecCounter)
	return nil
}

// tableIssues flattens a joined load error into one issue per cause.
func tableIssues(err error) []TableIssue {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var issues []TableIssue
		for _, e := range joined.Unwrap() {
			issues = append(issues, tableIssues(e)...)
		}
		return issues
	}

	var verr *tables.ValidationError
	switch {
	case errors.As(err, &verr):
		return []TableIssue{{
			Code:    ErrCodeInvalidTable,
			Table:   string(verr.Kind),
			Path:    verr.Path,
			Message: "schema validation failed",
			Details: verr.Details,
		}}
	case errors.Is(err, os.ErrNotExist):
		return []TableIssue{{Code: ErrCodeNotFound, Message: err.Error()}}
	default:
		return []TableIssue{{Code: ErrCodeInvalidTable, Message: err.Error()}}
	}
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []TableIssue) error {
	if formatter.JSON() {
		if err := formatter.Failure(ValidationResult{Valid: false, Errors: issues}, issues[0].Code, issues[0].Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Fprintln(formatter.Writer, issue.Path)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
		for _, d := range issue.Details {
			fmt.Fprintf(formatter.Writer, "    %s\n", d)
		}
		fmt.Fprintln(formatter.Writer)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
