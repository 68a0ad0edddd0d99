package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prepline/manifest/internal/causality"
	"github.com/prepline/manifest/internal/config"
)

// NewDetectCommand creates the detect command: classify a pair of
// operation descriptors as conflicting or not.
func NewDetectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <operations-file>",
		Short: "Check two operations for a concurrent-edit conflict",
		Long: `Check two operations for a concurrent-edit conflict.

The file holds a JSON array of exactly two operations, each with the
actor's vector clock at commit time and the resources the edit touched:

  [
    {"actorId": "a", "clock": {"a": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}},
    {"actorId": "b", "clock": {"b": 1}, "footprint": {"kind": "scheduling", "resources": ["shift-7"]}}
  ]

Exit code 1 means a conflict was found.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(rootOpts, args[0], cmd)
		},
	}
}

func runDetect(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read operations file", err)
	}

	var ops []causality.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, fmt.Sprintf("parse %s: %v", path, err), nil)
		return WrapExitError(ExitCommandError, "parse operations file", err)
	}
	if len(ops) != 2 {
		msg := fmt.Sprintf("expected exactly 2 operations, got %d", len(ops))
		_ = formatter.Error(ErrCodeLoadFailed, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}
	policy, err := cfg.Conflicts.Policy()
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "conflict policy", err)
	}

	detector := causality.NewDetector(policy)
	record, found := detector.Detect(ops[0], ops[1])

	if formatter.Format == "json" {
		payload := map[string]any{"conflict": found}
		if found {
			payload["record"] = record
		}
		if err := formatter.Success(payload); err != nil {
			return err
		}
	} else if found {
		fmt.Fprintf(formatter.Writer, "✗ %s conflict (%s) over %v\n", record.Type, record.Severity, record.Aggregates)
	} else {
		fmt.Fprintln(formatter.Writer, "✓ No conflict")
	}

	if found {
		return NewExitError(ExitFailure, "conflict detected")
	}
	return nil
}
