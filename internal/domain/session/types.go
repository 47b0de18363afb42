package session

import (
	"github.com/GriffinCanCode/mosaic/internal/display"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
)

// Blob is an image payload with the name it was uploaded under
type Blob struct {
	Name string
	Data []byte
}

// Size returns the payload size in bytes
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// PaletteEntry is the average color of the tile at Index
type PaletteEntry struct {
	Index int     `json:"index"`
	R     float64 `json:"r"`
	G     float64 `json:"g"`
	B     float64 `json:"b"`
}

// PreviewBlock is one grid cell of a preview: the target color and the
// color of the tile matched to it
type PreviewBlock struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	CellR int `json:"cellR"`
	CellG int `json:"cellG"`
	CellB int `json:"cellB"`
	SrcR  int `json:"srcR"`
	SrcG  int `json:"srcG"`
	SrcB  int `json:"srcB"`
}

// PreviewData is a low-resolution block grid. Treated as immutable once
// handed to the Store.
type PreviewData struct {
	Cols   int            `json:"cols"`
	Rows   int            `json:"rows"`
	Blocks []PreviewBlock `json:"blocks"`
}

// Operation names one of the three long-running actions
type Operation int

const (
	OpAnalyze Operation = iota
	OpPreview
	OpGenerate
)

// String returns the operation name used in logs and metrics
func (o Operation) String() string {
	switch o {
	case OpAnalyze:
		return "analyze"
	case OpPreview:
		return "preview"
	case OpGenerate:
		return "generate"
	default:
		return "unknown"
	}
}

// BusyState holds the in-flight flags
type BusyState struct {
	Analyzing  bool
	Previewing bool
	Generating bool
}

// Any reports whether any operation is in flight
func (b BusyState) Any() bool {
	return b.Analyzing || b.Previewing || b.Generating
}

// Revision identifies the inputs a long-running operation started from.
// Commits made against a stale revision are rejected.
type Revision struct {
	SessionID id.SessionID
	Tiles     uint64
	Main      uint64
	TileSize  int
}

// Snapshot is a consistent, read-only view of the Store
type Snapshot struct {
	SessionID    id.SessionID
	MainImage    display.Handle
	HasMainImage bool
	TileCount    int
	Thumbnails   []display.Handle
	PaletteSize  int
	Preview      *PreviewData
	Result       display.Handle
	HasResult    bool
	Settings     Settings
	Progress     int
	Busy         BusyState
	Err          string
	Version      uint64
}

// Inputs is what a preview or generate request is built from, read
// atomically with the revision it belongs to
type Inputs struct {
	Main        Blob
	HasMain     bool
	TileCount   int
	PaletteSize int
	Settings    Settings
	Revision    Revision
}
