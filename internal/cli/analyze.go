package cli

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/mosaic/internal/domain/palette"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		tiles  []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze tile colors and print palette statistics",
		Example: `  mosaic analyze --tiles ./photos
  mosaic analyze --tiles 'photos/**/*.jpg' --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.loadTiles(ctx, tiles); err != nil {
				return err
			}
			if err := a.orch.Analyze(ctx); err != nil {
				return err
			}

			entries := a.store.Palette()
			if len(entries) == 0 {
				return errors.New("analysis produced no palette")
			}
			summary := palette.Summarize(entries)

			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, string(data))
				return nil
			}

			fmt.Fprintf(a.out, "tiles:      %d\n", summary.Count)
			fmt.Fprintf(a.out, "mean color: %.1f %.1f %.1f\n", summary.Mean.R, summary.Mean.G, summary.Mean.B)
			fmt.Fprintf(a.out, "std dev:    %.1f %.1f %.1f\n", summary.StdDev.R, summary.StdDev.G, summary.StdDev.B)
			fmt.Fprintf(a.out, "brightness: %.1f to %.1f (median %.1f)\n",
				summary.MinBrightness, summary.MaxBrightness, summary.MedianBrightness)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tiles, "tiles", nil, "tile images: files, directories or globs (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	_ = cmd.MarkFlagRequired("tiles")

	return cmd
}
