package cli

import (
	"github.com/spf13/cobra"
	"github.com/vk/flowgrid/internal/app"
)

type runOptions struct {
	inputs          []string
	feeds           []string
	history         string
	dump            string
	healthcheckPort int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run PATH...",
		Short: "Compile and run a program",
		Long: `Load the graph files under PATH, compile the program and run it once.

Inputs are HCL literals given in program input order, e.g. --input '[1, 2]'.
Queue inputs take one --feed per step, e.g. --feed 'x=[1, 2]' --feed 'x=[3, 4]'.
Outputs are printed as "name = value" lines.`,
		Args: graphArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rootOpts, app.Config{
				GraphPaths:      args,
				Inputs:          opts.inputs,
				Feeds:           opts.feeds,
				HistoryPath:     opts.history,
				DumpPath:        opts.dump,
				HealthcheckPort: opts.healthcheckPort,
			})
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil, "program input literal, repeatable")
	cmd.Flags().StringArrayVar(&opts.feeds, "feed", nil, "queue input as name=literal, repeatable; the n-th value of each input feeds step n")
	cmd.Flags().StringVar(&opts.history, "history", "", "sqlite database that records step history")
	cmd.Flags().StringVar(&opts.dump, "dump", "", `write the actor set dump to this file ("-" for stdout)`)
	cmd.Flags().IntVar(&opts.healthcheckPort, "healthcheck-port", 0, "port for the HTTP health check server, 0 disables it")
	return cmd
}
