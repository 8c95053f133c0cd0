package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealmirror/pkg/backend"
	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the primary and checkpoint structures of a backend",
		Long: `Create the indexes, tables or files a backend needs before the first
session: the primary structure with its modification time field and the
checkpoint structure with its timestamp fields. Existing structures are kept.

Example:
  surrealmirror provision -n elasticsearch -u http://localhost:9200 -s orders`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return provision(cmd, opts)
		},
	}

	opts.addTargetFlags(cmd)

	return cmd
}

func provision(cmd *cobra.Command, opts *RelayOptions) error {
	ctx := commandContext(cmd)

	log, closer, err := opts.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	targets, _, err := opts.targets()
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := opts.checkTarget(t); err != nil {
			return err
		}
		a, err := opts.registry().Open(ctx, t.ClientName, opts.backendOptions(t, log, false))
		if err != nil {
			return WrapExitError(supervisor.ExitCode(err), "open backend "+t.ClientName, err)
		}

		p, ok := backend.AsProvisioner(a)
		if !ok {
			_ = a.Close(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s needs no provisioning\n", t.Name, t.ClientName)
			continue
		}
		err = p.Provision(ctx)
		_ = a.Close(ctx)
		if err != nil {
			return WrapExitError(supervisor.ExitFailure, "provision "+t.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: provisioned %s\n", t.Name, t.ClientName)
	}
	return nil
}
