package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vk/flowgrid/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogFormat   string
	LogLevel    string
	Workers     int
	MailboxSize int
}

var (
	validFormats = []string{"text", "json"}
	validLevels  = []string{"debug", "info", "warn", "error"}
)

// NewRootCommand creates the root command of the flowgrid CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flowgrid",
		Short: "flowgrid - actor-based dataflow runtime",
		Long: `Run compiled dataflow programs described in HCL or YAML graph files.

Every kernel becomes an actor; data, control and branch arrows between actors
drive execution on a fixed worker pool.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.LogFormat = strings.ToLower(opts.LogFormat)
			opts.LogLevel = strings.ToLower(opts.LogLevel)
			if !slices.Contains(validFormats, opts.LogFormat) {
				return &ExitError{Code: 2, Message: fmt.Sprintf("invalid log-format %q: must be one of %v", opts.LogFormat, validFormats)}
			}
			if !slices.Contains(validLevels, opts.LogLevel) {
				return &ExitError{Code: 2, Message: fmt.Sprintf("invalid log-level %q: must be one of %v", opts.LogLevel, validLevels)}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "logging level (debug|info|warn|error)")
	cmd.PersistentFlags().IntVar(&opts.Workers, "workers", 4, "number of worker goroutines")
	cmd.PersistentFlags().IntVar(&opts.MailboxSize, "mailbox-size", 256, "capacity of every actor mailbox")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	return cmd
}

// Execute runs the CLI with args, writing command output to out and logs
// to errOut.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

// graphArgs requires at least one graph path, reporting a usage error.
func graphArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
		return usageError(err)
	}
	return nil
}

func newApp(cmd *cobra.Command, opts *RootOptions, cfg app.Config) (*app.App, error) {
	cfg.LogFormat = opts.LogFormat
	cfg.LogLevel = opts.LogLevel
	cfg.Workers = opts.Workers
	cfg.MailboxSize = opts.MailboxSize
	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError(err)
	}
	return app.NewApp(cmd.ErrOrStderr(), validated, app.NewLoader())
}
