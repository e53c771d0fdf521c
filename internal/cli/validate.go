package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vk/flowgrid/internal/app"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Check that a program loads and compiles",
		Args:  graphArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rootOpts, app.Config{GraphPaths: args})
			if err != nil {
				return err
			}
			prog := a.Program()
			fmt.Fprintf(cmd.OutOrStdout(), "program %s is valid: %d graphs, %d inputs, %d outputs\n",
				prog.Name, len(prog.Graphs), len(prog.Inputs), len(prog.Outputs))
			return nil
		},
	}
}
