package cli

import (
	"github.com/spf13/cobra"
	"github.com/vk/flowgrid/internal/app"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump PATH...",
		Short: "Build a program and print its actor set without running it",
		Args:  graphArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rootOpts, app.Config{GraphPaths: args})
			if err != nil {
				return err
			}
			return a.Dump(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
