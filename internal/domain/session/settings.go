package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidSettings wraps every settings validation failure
var ErrInvalidSettings = errors.New("invalid settings")

// Style selects how matched tiles are blended
type Style string

const (
	// StyleClassic pastes matched tiles unchanged
	StyleClassic Style = "A"
	// StyleTinted color-corrects each tile toward its target cell
	StyleTinted Style = "B"
	// StyleOverlay lays a translucent copy of the main image over the tiles
	StyleOverlay Style = "C"
)

// Settings bounds
const (
	MinTileSize       = 5
	MaxTileSize       = 200
	MinOverlayOpacity = 0.05
	MaxOverlayOpacity = 0.6
)

// Settings is the generation configuration chosen by the user
type Settings struct {
	TileSize       int     `json:"tile_size" yaml:"tile_size" toml:"tile_size"`
	Style          Style   `json:"style" yaml:"style" toml:"style"`
	OverlayOpacity float64 `json:"overlay_opacity" yaml:"overlay_opacity" toml:"overlay_opacity"`
	AllowRepeats   bool    `json:"allow_repeats" yaml:"allow_repeats" toml:"allow_repeats"`
	ShuffleSources bool    `json:"shuffle_sources" yaml:"shuffle_sources" toml:"shuffle_sources"`
	A4Output       bool    `json:"a4_output" yaml:"a4_output" toml:"a4_output"`
}

// DefaultSettings returns the settings a fresh session starts with
func DefaultSettings() Settings {
	return Settings{
		TileSize:       40,
		Style:          StyleClassic,
		OverlayOpacity: 0.25,
		AllowRepeats:   true,
	}
}

// OverlayVisible reports whether OverlayOpacity affects the output
func (s Settings) OverlayVisible() bool {
	return s.Style == StyleOverlay
}

// Validate checks ranges and the style variant
func (s Settings) Validate() error {
	if s.TileSize < MinTileSize || s.TileSize > MaxTileSize {
		return fmt.Errorf("%w: tile size %d outside [%d, %d]", ErrInvalidSettings, s.TileSize, MinTileSize, MaxTileSize)
	}
	switch s.Style {
	case StyleClassic, StyleTinted, StyleOverlay:
	default:
		return fmt.Errorf("%w: style must be A, B, or C, got %q", ErrInvalidSettings, s.Style)
	}
	if s.OverlayOpacity < MinOverlayOpacity || s.OverlayOpacity > MaxOverlayOpacity {
		return fmt.Errorf("%w: overlay opacity %.2f outside [%.2f, %.2f]", ErrInvalidSettings, s.OverlayOpacity, MinOverlayOpacity, MaxOverlayOpacity)
	}
	return nil
}

// LoadSettingsFile reads settings from a YAML, TOML or JSON file. Keys the
// file omits keep their default values.
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data, filepath.Ext(path))
}

// ParseSettings decodes settings in the format named by ext (".yaml",
// ".yml", ".toml" or ".json")
func ParseSettings(data []byte, ext string) (Settings, error) {
	s := DefaultSettings()

	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	case ".toml":
		err = toml.Unmarshal(data, &s)
	case ".json":
		err = sonic.Unmarshal(data, &s)
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.Style = Style(strings.ToUpper(string(s.Style)))
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
