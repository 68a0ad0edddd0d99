package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prepline/manifest/internal/config"
	"github.com/prepline/manifest/internal/engine"
	"github.com/prepline/manifest/internal/ir"
	"github.com/prepline/manifest/internal/respond"
	"github.com/prepline/manifest/internal/store"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Entity      string
	Payload     string
	Snapshot    string
	DB          string
	AggregateID string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <rules-dir> <command>",
		Short: "Execute a command and print the mapped response",
		Long: `Execute a command against compiled rules and print the mapped response.

Without --db the command runs statelessly against the snapshot file (or an
empty snapshot) and nothing is persisted. With --db the aggregate is loaded
from the store and, on success, the new state and outbox rows are committed
in one transaction.

Example:
  manifest invoke ./rules assign --entity Shift --aggregate-id shift-7 \
    --payload '{"employee_id":"emp-1"}' --db manifest.db`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity scope for ambiguous command names")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "command payload as JSON")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "aggregate snapshot file (stateless mode)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite store path (commit mode)")
	cmd.Flags().StringVar(&opts.AggregateID, "aggregate-id", "", "aggregate id (commit mode)")

	return cmd
}

// snapshotFile is the on-disk shape accepted by --snapshot.
type snapshotFile struct {
	AggregateID string          `json:"aggregateId"`
	LastSeq     int64           `json:"lastSeq"`
	State       json.RawMessage `json:"state"`
}

func runInvoke(opts *InvokeOptions, dir, commandName string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	payload, err := ir.DecodeObject([]byte(opts.Payload))
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, fmt.Sprintf("invalid --payload: %v", err), nil)
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	result, err := LoadProgram(dir)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	if result.Schema == nil {
		return reportDiagnostics(formatter, result.Diagnostics)
	}

	eng, err := engine.New(result.Schema, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "build engine", err)
	}

	var cmdResult engine.CommandResult
	if opts.DB != "" {
		cmdResult, err = invokeCommitted(opts, eng, commandName, payload)
		if err != nil {
			_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "commit", err)
		}
	} else {
		snapshot, snapErr := readSnapshot(opts.Snapshot)
		if snapErr != nil {
			_ = formatter.Error(ErrCodeLoadFailed, snapErr.Error(), nil)
			return WrapExitError(ExitCommandError, "read snapshot", snapErr)
		}
		cmdResult = eng.Execute(engine.Request{
			Entity:  opts.Entity,
			Command: commandName,
			Payload: payload,
			State:   snapshot,
		})
	}

	return reportResponse(formatter, respond.ToResponse(cmdResult))
}

func invokeCommitted(opts *InvokeOptions, eng *engine.Engine, commandName string, payload ir.Object) (engine.CommandResult, error) {
	if opts.AggregateID == "" {
		return engine.CommandResult{}, fmt.Errorf("--aggregate-id is required with --db")
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return engine.CommandResult{}, err
	}

	st, err := store.Open(opts.DB)
	if err != nil {
		return engine.CommandResult{}, err
	}
	defer st.Close()

	rt := engine.NewRuntime(eng, st, cfg.Node.ID, nil)
	ctx := context.Background()
	return rt.ExecuteAndCommit(ctx, opts.Entity, commandName, opts.AggregateID, payload)
}

func readSnapshot(path string) (engine.Snapshot, error) {
	if path == "" {
		return engine.Snapshot{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return engine.Snapshot{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	snap := engine.Snapshot{AggregateID: file.AggregateID, LastSeq: file.LastSeq}
	if len(file.State) > 0 {
		snap.State, err = ir.DecodeObject(file.State)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("snapshot state: %w", err)
		}
	}
	return snap, nil
}

func reportResponse(formatter *OutputFormatter, resp respond.Response) error {
	if formatter.Format == "json" {
		if err := formatter.Success(resp); err != nil {
			return err
		}
	} else {
		mark := "✓"
		if !resp.Body.Success {
			mark = "✗"
		}
		fmt.Fprintf(formatter.Writer, "%s %d %s.%s\n", mark, resp.Status, resp.Body.Entity, resp.Body.Command)
		if resp.Body.Message != "" {
			fmt.Fprintf(formatter.Writer, "  %s\n", resp.Body.Message)
		}
		for _, o := range resp.Body.Outcomes {
			fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", o.Severity, o.RuleID, o.Message)
		}
		for _, ev := range resp.Body.Events {
			fmt.Fprintf(formatter.Writer, "  event %s seq=%d\n", ev.EventType, ev.Seq)
		}
	}

	if !resp.Body.Success {
		return NewExitError(ExitFailure, fmt.Sprintf("command did not succeed (status %d)", resp.Status))
	}
	return nil
}
