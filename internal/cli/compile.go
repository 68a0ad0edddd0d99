package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prepline/manifest/internal/compiler"
	"github.com/prepline/manifest/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <rules-dir>",
		Short: "Compile Manifest rules to canonical IR",
		Long: `Compile Manifest rule definitions to canonical IR.

The compiler parses the CUE files in the directory, checks every command
for exactly one owning entity, and emits canonical JSON whose hash
identifies the schema version.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write canonical IR to file")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result, err := LoadProgram(dir)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	if result.Schema == nil {
		return reportDiagnostics(formatter, result.Diagnostics)
	}

	for _, d := range result.Diagnostics {
		formatter.VerboseLog("%s", d)
	}

	canonical, err := ir.CanonicalSchema(result.Schema)
	if err != nil {
		_ = formatter.Error(compiler.ErrSyntax, fmt.Sprintf("canonicalize schema: %v", err), nil)
		return NewExitError(ExitCommandError, "canonicalize schema")
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, canonical, 0o644); err != nil {
			_ = formatter.Error(ErrCodeLoadFailed, fmt.Sprintf("writing %s: %v", opts.Output, err), nil)
			return WrapExitError(ExitCommandError, "write output", err)
		}
	}

	return reportCompiled(formatter, result, canonical, opts.Output)
}

type compileReport struct {
	Hash        string                `json:"hash"`
	Entities    []ir.Entity           `json:"entities"`
	Diagnostics []compiler.Diagnostic `json:"diagnostics,omitempty"`
}

func reportCompiled(formatter *OutputFormatter, result compiler.Result, canonical []byte, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(compileReport{
			Hash:        result.Schema.Hash,
			Entities:    result.Schema.Entities,
			Diagnostics: result.Diagnostics,
		})
	}

	commands := 0
	for _, e := range result.Schema.Entities {
		commands += len(e.Commands)
	}
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d entity(ies), %d command(s)\n", len(result.Schema.Entities), commands)
	fmt.Fprintf(formatter.Writer, "Schema hash: %s\n", result.Schema.Hash)
	for _, e := range result.Schema.Entities {
		fmt.Fprintf(formatter.Writer, "  %s: %d command(s)\n", e.Name, len(e.Commands))
	}
	for _, d := range result.Diagnostics {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", d)
	}
	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical IR to %s (%d bytes)\n", outputFile, len(canonical))
	}
	return nil
}

// reportDiagnostics prints compiler diagnostics and returns a failure
// exit error.
func reportDiagnostics(formatter *OutputFormatter, diags []compiler.Diagnostic) error {
	errorCount := 0
	for _, d := range diags {
		if d.IsError() {
			errorCount++
		}
	}

	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(diags))
		for i, d := range diags {
			cliErrors[i] = CLIError{Code: d.Code, Message: d.String()}
		}
		_ = formatter.Error(diags[0].Code, diags[0].Message, cliErrors)
		return NewExitError(ExitFailure, fmt.Sprintf("compilation failed with %d error(s)", errorCount))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	for _, d := range diags {
		fmt.Fprintf(formatter.Writer, "  %s\n", d)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("compilation failed with %d error(s)", errorCount))
}

func reportLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, loadErr.Message, nil)
	}
	_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
	return WrapExitError(ExitCommandError, "load failed", err)
}
