// Package cli implements the surrealmirror command line.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealmirror/pkg/logger"
)

// RootOptions holds the global flags.
type RootOptions struct {
	LogFormat   string
	LogLevel    string
	LogFile     string
	TraceStdout bool
}

var validLogFormats = []string{"json", "console"}

// NewRootCommand creates the surrealmirror command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "surrealmirror",
		Short: "Relay a change-data-capture mirror into a downstream store",
		Long: `surrealmirror connects to a mirror server over a websocket, answers its
resumption requests and applies the streamed upserts, updates and deletes to a
downstream store, checkpointing every mutation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validLogFormats, opts.LogFormat) {
				return configError("invalid flags", fmt.Errorf("log format %q: must be one of %v", opts.LogFormat, validLogFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|console)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "minimum log level")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "append logs to this file instead of stderr")
	cmd.PersistentFlags().BoolVar(&opts.TraceStdout, "trace-stdout", false, "export trace spans to stderr")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewBackendsCommand())

	return cmd
}

// logger builds the zerolog logger selected by the global flags. The
// returned closer releases the log file, if any.
func (o *RootOptions) logger(w io.Writer) (logger.Logger, io.Closer, error) {
	build := logger.NewBuild().
		FromBuffer(w).
		Level(o.LogLevel).
		Console(o.LogFormat == "console")
	if o.LogFile != "" {
		build = build.FromPath(o.LogFile)
	}
	data, err := build.Make()
	if err != nil {
		return nil, nil, configError("open log file", err)
	}
	return logger.Zerolog(data.Logger), data, nil
}
