package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the processing service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.client.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: ok\n", a.cfg.Service.URL)
			return nil
		},
	}
}
