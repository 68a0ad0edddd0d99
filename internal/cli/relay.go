package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prepline/manifest/internal/config"
	"github.com/prepline/manifest/internal/outbox"
	"github.com/prepline/manifest/internal/store"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	DB    string
	Drain bool
}

// NewRelayCommand creates the relay command: the outbox publisher with
// envelopes written to stdout as JSON lines.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox rows",
		Long: `Run the outbox publisher against a store, writing each envelope to
stdout as one JSON line.

With --drain the relay publishes the backlog and exits; without it the
relay polls until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite store path")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "publish the backlog and exit")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
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

	ch := &writerChannel{w: cmd.OutOrStdout()}
	pub := outbox.NewPublisher(st, ch, cfg.Node.ID, cfg.Publisher, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Drain {
		formatter.VerboseLog("draining outbox at %s", dbPath)
		if err := pub.Drain(ctx); err != nil {
			return WrapExitError(ExitCommandError, "drain", err)
		}
		return nil
	}

	formatter.VerboseLog("relaying outbox at %s (interrupt to stop)", dbPath)
	if err := pub.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "relay", err)
	}
	return nil
}

// writerChannel publishes envelopes as JSON lines. Stands in for a real
// realtime transport, which is deliberately outside this tool's scope.
type writerChannel struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *writerChannel) Publish(_ context.Context, env outbox.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprintf(c.w, "%s\n", data)
	return err
}
