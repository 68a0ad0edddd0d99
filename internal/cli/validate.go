package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command: compile for
// diagnostics only, emit no IR.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <rules-dir>",
		Short:         "Check Manifest rules without emitting IR",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result, err := LoadProgram(dir)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	if result.Schema == nil {
		return reportDiagnostics(formatter, result.Diagnostics)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"hash":        result.Schema.Hash,
			"diagnostics": result.Diagnostics,
		})
	}

	fmt.Fprintln(formatter.Writer, "✓ Rules are valid")
	for _, d := range result.Diagnostics {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", d)
	}
	return nil
}
