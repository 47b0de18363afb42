package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	var (
		mainPath string
		tiles    []string
		out      string
		settings settingsFlags
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the mosaic and write it to a file",
		Long: `Generate uploads the tiles for analysis when no palette exists yet, then asks
the service to render the mosaic with the given settings.`,
		Example: `  mosaic generate --main portrait.jpg --tiles ./photos --style C --overlay-opacity 0.3
  mosaic generate --main portrait.jpg --tiles ./photos --settings mosaic.yaml -o out.png`,
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
			if err := a.orch.Generate(ctx); err != nil {
				return err
			}

			result, _, ok := a.store.Result()
			if !ok {
				return errors.New("service returned no result")
			}

			path := out
			if path == "" {
				path = filepath.Base(result.Name)
			}
			if err := os.WriteFile(path, result.Data, 0o644); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			fmt.Fprintf(a.out, "wrote %s (%d bytes)\n", path, result.Size())
			return nil
		},
	}

	cmd.Flags().StringVar(&mainPath, "main", "", "main image the mosaic reproduces")
	cmd.Flags().StringSliceVar(&tiles, "tiles", nil, "tile images: files, directories or globs (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: name given by the service)")
	settings.register(cmd, true)
	_ = cmd.MarkFlagRequired("main")
	_ = cmd.MarkFlagRequired("tiles")

	return cmd
}
