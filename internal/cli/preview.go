package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

func newPreviewCmd(opts *globalOptions) *cobra.Command {
	var (
		mainPath string
		tiles    []string
		out      string
		settings settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Analyze tiles and fetch a low-resolution preview grid",
		Example: `  mosaic preview --main portrait.jpg --tiles ./photos --tile-size 20 --out grid.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := settings.resolve(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.SetSettings(s); err != nil {
				return err
			}
			if err := a.loadMain(mainPath); err != nil {
				return err
			}
			if err := a.loadTiles(ctx, tiles); err != nil {
				return err
			}
			if err := a.orch.Analyze(ctx); err != nil {
				return err
			}
			if err := a.orch.Preview(ctx); err != nil {
				return err
			}

			grid := a.store.Preview()
			if grid == nil {
				return errors.New("service returned no preview")
			}
			fmt.Fprintf(a.out, "preview: %d x %d blocks\n", grid.Cols, grid.Rows)

			if out != "" {
				data, err := sonic.Marshal(grid)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				fmt.Fprintf(a.out, "wrote %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mainPath, "main", "", "main image the mosaic reproduces")
	cmd.Flags().StringSliceVar(&tiles, "tiles", nil, "tile images: files, directories or globs (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the preview grid as JSON to this file")
	settings.register(cmd, false)
	_ = cmd.MarkFlagRequired("main")
	_ = cmd.MarkFlagRequired("tiles")

	return cmd
}
