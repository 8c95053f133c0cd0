package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealmirror/pkg/supervisor"
	"github.com/surrealdb/surrealmirror/pkg/telemetry"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Relay the mirror stream into a backend",
		Long: `Connect to the mirror and relay its stream until interrupted.

The bearer token is read from MIRROR_TOKEN. Failed sessions are restarted with
exponential backoff and resume from the backend's checkpoints. An authorization
failure or a protocol violation ends the process.

Example:
  MIRROR_TOKEN=... surrealmirror run -m wss://mirror:8080 -n mongodb -u mongodb://localhost -s shop.orders
  surrealmirror run --config targets.yaml --log-format console`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, opts)
		},
	}

	opts.addTargetFlags(cmd)
	opts.addSessionFlags(cmd)

	return cmd
}

func runRelay(cmd *cobra.Command, opts *RelayOptions) error {
	ctx, stop := supervisor.NotifyContext(commandContext(cmd))
	defer stop()

	log, closer, err := opts.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	sups, err := opts.supervisors(log)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{Stdout: opts.TraceStdout, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return WrapExitError(supervisor.ExitFailure, "init tracing", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("flushing traces", "error", err)
		}
	}()

	log.Info("starting relay", "targets", len(sups))
	if err := supervisor.RunAll(ctx, sups...); err != nil {
		return WrapExitError(supervisor.ExitCode(err), "relay failed", err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
