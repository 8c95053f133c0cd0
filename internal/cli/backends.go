package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealmirror/pkg/backend/registry"
)

// NewBackendsCommand creates the backends command.
func NewBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the compiled-in backends and their protocols",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROTOCOL\tDESCRIPTION")
			for _, reg := range registry.Registrations() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", reg.Name, reg.Protocol, reg.Description)
			}
			return w.Flush()
		},
	}
}
