package cli

import (
	"strings"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/spf13/cobra"
)

// settingsFlags binds mosaic settings to command flags. Flags override the
// settings file, which overrides the defaults.
type settingsFlags struct {
	file           string
	tileSize       int
	style          string
	overlayOpacity float64
	noRepeats      bool
	shuffle        bool
	a4             bool
}

func (f *settingsFlags) register(cmd *cobra.Command, full bool) {
	d := session.DefaultSettings()
	flags := cmd.Flags()
	flags.StringVar(&f.file, "settings", "", "settings file (.yaml, .yml, .toml or .json)")
	flags.IntVar(&f.tileSize, "tile-size", d.TileSize, "tile size in pixels (5-200)")
	if !full {
		return
	}
	flags.StringVar(&f.style, "style", string(d.Style), "mosaic style: A classic, B tinted, C overlay")
	flags.Float64Var(&f.overlayOpacity, "overlay-opacity", d.OverlayOpacity, "overlay opacity for style C (0.05-0.6)")
	flags.BoolVar(&f.noRepeats, "no-repeats", false, "use each tile at most once")
	flags.BoolVar(&f.shuffle, "shuffle", false, "shuffle tiles before matching")
	flags.BoolVar(&f.a4, "a4", false, "render on an A4 page")
}

func (f *settingsFlags) resolve(cmd *cobra.Command) (session.Settings, error) {
	s := session.DefaultSettings()
	if f.file != "" {
		loaded, err := session.LoadSettingsFile(f.file)
		if err != nil {
			return session.Settings{}, err
		}
		s = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("tile-size") {
		s.TileSize = f.tileSize
	}
	if flags.Changed("style") {
		s.Style = session.Style(strings.ToUpper(f.style))
	}
	if flags.Changed("overlay-opacity") {
		s.OverlayOpacity = f.overlayOpacity
	}
	if flags.Changed("no-repeats") {
		s.AllowRepeats = !f.noRepeats
	}
	if flags.Changed("shuffle") {
		s.ShuffleSources = f.shuffle
	}
	if flags.Changed("a4") {
		s.A4Output = f.a4
	}

	return s, s.Validate()
}
