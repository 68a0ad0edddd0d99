package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prepline/manifest/internal/config"
	"github.com/prepline/manifest/internal/store"
)

// DeadOptions holds flags for the dead command.
type DeadOptions struct {
	*RootOptions
	DB    string
	Limit int
}

// NewDeadCommand creates the dead command: inspect dead-lettered outbox
// rows so an operator can decide what to do with them.
func NewDeadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "dead",
		Short:         "List dead-lettered outbox rows",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDead(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite store path")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows to list")

	return cmd
}

type deadRow struct {
	ID            string `json:"id"`
	AggregateType string `json:"aggregateType"`
	AggregateID   string `json:"aggregateId"`
	EventType     string `json:"eventType"`
	Seq           int64  `json:"seq"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"lastError"`
}

func runDead(opts *DeadOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}
	dbPath := opts.DB
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer st.Close()

	rows, err := st.ListDead(context.Background(), opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeLoadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "list dead rows", err)
	}

	out := make([]deadRow, len(rows))
	for i, r := range rows {
		out[i] = deadRow{
			ID:            r.ID,
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID,
			EventType:     r.EventType,
			Seq:           r.Seq,
			Attempts:      r.Attempts,
			LastError:     r.LastError,
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	if len(out) == 0 {
		fmt.Fprintln(formatter.Writer, "No dead rows")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%d dead row(s):\n", len(out))
	for _, r := range out {
		fmt.Fprintf(formatter.Writer, "  %s %s/%s seq=%d attempts=%d\n    %s\n",
			r.EventType, r.AggregateType, r.AggregateID, r.Seq, r.Attempts, r.LastError)
	}
	return nil
}
