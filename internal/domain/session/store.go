package session

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/mosaic/internal/display"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"go.uber.org/zap"
)

// ThumbnailLimit is the default number of leading tiles that get handles
const ThumbnailLimit = 200

// ErrStaleRevision is returned when a commit targets inputs that changed
// after the operation started
var ErrStaleRevision = errors.New("session inputs changed during operation")

// image pairs a blob with the display handle allocated for it
type image struct {
	blob   Blob
	handle display.Handle
}

// Store is the session aggregate. All methods are safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	handles        display.Allocator
	logger         *zap.Logger
	metrics        *monitoring.Metrics
	thumbnailLimit int

	sessionID id.SessionID
	main      *image
	tiles     []Blob
	thumbs    []display.Handle
	palette   []PaletteEntry
	preview   *PreviewData
	result    *image
	settings  Settings
	progress  int
	busy      BusyState
	lastErr   string

	// revisions of the inputs derived state is computed from
	tilesRev uint64
	mainRev  uint64
	version  uint64

	listenersMu  sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int

	// held from snapshot to the end of dispatch so observers see versions
	// in order; taken while mu is held
	notifyMu sync.Mutex
}

// NewStore creates a store with a fresh session id and default settings
func NewStore(handles display.Allocator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		handles:        handles,
		logger:         logger,
		thumbnailLimit: ThumbnailLimit,
		sessionID:      id.NewSessionID(),
		settings:       DefaultSettings(),
		listeners:      make(map[int]func(Snapshot)),
	}
}

// WithMetrics adds metrics tracking to the store
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// WithThumbnailLimit overrides how many leading tiles get display handles.
// Call before adding tiles.
func (s *Store) WithThumbnailLimit(limit int) *Store {
	if limit >= 0 {
		s.thumbnailLimit = limit
	}
	return s
}

// ---------------------------------------------------------------------------
// Mutators
// ---------------------------------------------------------------------------

// SetMainImage replaces the main image. nil clears it. Preview and Result
// are invalidated either way.
func (s *Store) SetMainImage(blob *Blob) {
	s.mutate(func() {
		s.releaseImage(&s.main)
		if blob != nil {
			s.main = &image{blob: *blob, handle: s.handles.Allocate(blob.Data)}
		}
		s.mainRev++
		s.preview = nil
		s.releaseImage(&s.result)
	})
}

// SetTileSet replaces the tile set. Palette, Preview and Result are
// invalidated.
func (s *Store) SetTileSet(tiles []Blob) {
	s.mutate(func() {
		s.tiles = append([]Blob(nil), tiles...)
		s.tilesChanged()
		s.releaseImage(&s.result)
	})
}

// AppendTiles extends the tile set in order. Palette and Preview are
// invalidated; an existing Result is kept.
func (s *Store) AppendTiles(tiles []Blob) {
	if len(tiles) == 0 {
		return
	}
	s.mutate(func() {
		s.tiles = append(s.tiles, tiles...)
		s.tilesChanged()
	})
}

// ClearTileSet empties the tile set. Palette and Preview are invalidated.
func (s *Store) ClearTileSet() {
	s.mutate(func() {
		s.tiles = nil
		s.tilesChanged()
	})
}

// SetPalette replaces the palette
func (s *Store) SetPalette(entries []PaletteEntry) {
	s.mutate(func() {
		s.palette = append([]PaletteEntry(nil), entries...)
	})
}

// SetProgress sets pipeline progress, clamped to [0, 100]
func (s *Store) SetProgress(percent int) {
	percent = clampPercent(percent)
	s.mutate(func() {
		s.progress = percent
	})
	s.metrics.SetProgress(percent)
}

// SetPreview replaces the preview grid. nil clears it.
func (s *Store) SetPreview(data *PreviewData) {
	s.mutate(func() {
		s.preview = data
	})
}

// SetResult replaces the generated image. nil clears it.
func (s *Store) SetResult(blob *Blob) {
	s.mutate(func() {
		s.releaseImage(&s.result)
		if blob != nil {
			s.result = &image{blob: *blob, handle: s.handles.Allocate(blob.Data)}
		}
	})
}

// SetSettings validates and applies settings. A tile size change
// invalidates the preview.
func (s *Store) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mutate(func() {
		if settings.TileSize != s.settings.TileSize {
			s.preview = nil
		}
		s.settings = settings
	})
	return nil
}

// SetBusy sets the in-flight flag of one operation
func (s *Store) SetBusy(op Operation, busy bool) {
	s.mutate(func() {
		s.setBusyLocked(op, busy)
	})
}

func (s *Store) setBusyLocked(op Operation, busy bool) {
	switch op {
	case OpAnalyze:
		s.busy.Analyzing = busy
	case OpPreview:
		s.busy.Previewing = busy
	case OpGenerate:
		s.busy.Generating = busy
	}
}

// Begin marks op in flight and clears the surfaced error
func (s *Store) Begin(op Operation) {
	s.mutate(func() {
		s.setBusyLocked(op, true)
		s.lastErr = ""
	})
}

// Finish clears the in-flight flag of op and surfaces err if non-nil
func (s *Store) Finish(op Operation, err error) {
	s.mutate(func() {
		s.setBusyLocked(op, false)
		if err != nil {
			s.lastErr = err.Error()
		}
	})
}

// SetError surfaces err; nil clears the surfaced error
func (s *Store) SetError(err error) {
	s.mutate(func() {
		if err == nil {
			s.lastErr = ""
			return
		}
		s.lastErr = err.Error()
	})
}

// ClearError clears the surfaced error
func (s *Store) ClearError() {
	s.SetError(nil)
}

// ResetSession rotates the session id, releases every live handle and
// returns all state to its initial values
func (s *Store) ResetSession() {
	s.mutate(func() {
		s.releaseImage(&s.main)
		s.releaseThumbnails()
		s.releaseImage(&s.result)

		s.sessionID = id.NewSessionID()
		s.tiles = nil
		s.palette = nil
		s.preview = nil
		s.settings = DefaultSettings()
		s.progress = 0
		s.busy = BusyState{}
		s.lastErr = ""
		s.tilesRev++
		s.mainRev++
	})
	s.metrics.IncSessionResets()
	s.metrics.SetProgress(0)
}

// Close releases every live handle without rotating the session
func (s *Store) Close() {
	s.mutate(func() {
		s.releaseImage(&s.main)
		s.releaseThumbnails()
		s.releaseImage(&s.result)
	})
}

// ---------------------------------------------------------------------------
// Revision-checked commits
// ---------------------------------------------------------------------------

// Revision returns the current input revision
func (s *Store) Revision() Revision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revisionLocked()
}

// AnalysisInput returns the tile set together with the revision it belongs to
func (s *Store) AnalysisInput() ([]Blob, Revision) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Blob(nil), s.tiles...), s.revisionLocked()
}

// Inputs returns the request inputs for preview and generate
func (s *Store) Inputs() Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in := Inputs{
		TileCount:   len(s.tiles),
		PaletteSize: len(s.palette),
		Settings:    s.settings,
		Revision:    s.revisionLocked(),
	}
	if s.main != nil {
		in.Main = s.main.blob
		in.HasMain = true
	}
	return in
}

// CommitPalette replaces the palette and progress if the tile set and
// session are unchanged since rev was taken
func (s *Store) CommitPalette(rev Revision, entries []PaletteEntry, progress int) error {
	progress = clampPercent(progress)
	err := s.mutateIf(func() bool {
		return rev.SessionID == s.sessionID && rev.Tiles == s.tilesRev
	}, func() {
		s.palette = append([]PaletteEntry(nil), entries...)
		s.progress = progress
	})
	if err == nil {
		s.metrics.SetProgress(progress)
	}
	return err
}

// CommitPreview replaces the preview if the main image, tiles, tile size and
// session are unchanged since rev was taken
func (s *Store) CommitPreview(rev Revision, data *PreviewData) error {
	return s.mutateIf(func() bool {
		return rev == s.revisionLocked()
	}, func() {
		s.preview = data
	})
}

// CommitResult replaces the result if the main image, tiles and session are
// unchanged since rev was taken. Settings may change while generating; the
// result reflects the settings it was requested with.
func (s *Store) CommitResult(rev Revision, blob Blob) error {
	return s.mutateIf(func() bool {
		return rev.SessionID == s.sessionID && rev.Tiles == s.tilesRev && rev.Main == s.mainRev
	}, func() {
		s.releaseImage(&s.result)
		s.result = &image{blob: blob, handle: s.handles.Allocate(blob.Data)}
	})
}

// ---------------------------------------------------------------------------
// Readers
// ---------------------------------------------------------------------------

// SessionID returns the current session identifier
func (s *Store) SessionID() id.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// MainImage returns the main image and its handle
func (s *Store) MainImage() (Blob, display.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.main == nil {
		return Blob{}, "", false
	}
	return s.main.blob, s.main.handle, true
}

// Tiles returns a copy of the tile list
func (s *Store) Tiles() []Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Blob(nil), s.tiles...)
}

// TileCount returns the number of tiles
func (s *Store) TileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles)
}

// Thumbnails returns the handles of the leading tiles
func (s *Store) Thumbnails() []display.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]display.Handle(nil), s.thumbs...)
}

// Palette returns a copy of the palette
func (s *Store) Palette() []PaletteEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PaletteEntry(nil), s.palette...)
}

// Preview returns the preview grid, nil when none
func (s *Store) Preview() *PreviewData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preview
}

// Result returns the generated image and its handle
func (s *Store) Result() (Blob, display.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return Blob{}, "", false
	}
	return s.result.blob, s.result.handle, true
}

// Settings returns the current settings
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Progress returns pipeline progress in percent
func (s *Store) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// BusyState returns the in-flight flags
func (s *Store) BusyState() BusyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// Busy reports whether any long-running operation is in flight
func (s *Store) Busy() bool {
	return s.BusyState().Any()
}

// Err returns the surfaced error text, empty when none
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// LiveHandles returns how many display handles the store holds
func (s *Store) LiveHandles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveHandlesLocked()
}

// CanAnalyze reports whether there are tiles to analyze
func (s *Store) CanAnalyze() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tiles) > 0
}

// CanPreview reports whether a main image and a palette are present
func (s *Store) CanPreview() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.main != nil && len(s.palette) > 0
}

// CanGenerate reports whether a main image and tiles are present
func (s *Store) CanGenerate() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.main != nil && len(s.tiles) > 0
}

// Snapshot returns a consistent copy of the observable state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every mutation. The
// returned function unsubscribes. Snapshots arrive one at a time in Version
// order. fn may read the Store or unsubscribe but must not mutate it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.listenersMu.Lock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, key)
		s.listenersMu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// mutate applies fn under the write lock and notifies observers afterwards
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	fn()
	s.commitLocked()
}

// mutateIf applies fn only when valid holds under the same lock
func (s *Store) mutateIf(valid func() bool, fn func()) error {
	s.mu.Lock()
	if !valid() {
		s.mu.Unlock()
		return ErrStaleRevision
	}
	fn()
	s.commitLocked()
	return nil
}

// commitLocked bumps the version, releases mu and notifies observers
func (s *Store) commitLocked() {
	s.version++
	snap := s.snapshotLocked()
	live := s.liveHandlesLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.metrics.SetDisplayHandles(live)
	s.notify(snap)
}

func (s *Store) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// tilesChanged reallocates thumbnails and drops tile-derived state
func (s *Store) tilesChanged() {
	s.releaseThumbnails()
	n := min(len(s.tiles), s.thumbnailLimit)
	s.thumbs = make([]display.Handle, 0, n)
	for _, tile := range s.tiles[:n] {
		s.thumbs = append(s.thumbs, s.handles.Allocate(tile.Data))
	}
	s.tilesRev++
	s.palette = nil
	s.preview = nil
}

func (s *Store) releaseThumbnails() {
	for _, h := range s.thumbs {
		s.release(h)
	}
	s.thumbs = nil
}

func (s *Store) releaseImage(slot **image) {
	if *slot == nil {
		return
	}
	s.release((*slot).handle)
	*slot = nil
}

func (s *Store) release(h display.Handle) {
	if err := s.handles.Release(h); err != nil {
		s.logger.Error("Display handle release failed",
			zap.String("session_id", s.sessionID.String()),
			zap.String("handle", h.String()),
			zap.Error(err))
	}
}

func (s *Store) liveHandlesLocked() int {
	n := len(s.thumbs)
	if s.main != nil {
		n++
	}
	if s.result != nil {
		n++
	}
	return n
}

func (s *Store) revisionLocked() Revision {
	return Revision{
		SessionID: s.sessionID,
		Tiles:     s.tilesRev,
		Main:      s.mainRev,
		TileSize:  s.settings.TileSize,
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:   s.sessionID,
		TileCount:   len(s.tiles),
		Thumbnails:  append([]display.Handle(nil), s.thumbs...),
		PaletteSize: len(s.palette),
		Preview:     s.preview,
		Settings:    s.settings,
		Progress:    s.progress,
		Busy:        s.busy,
		Err:         s.lastErr,
		Version:     s.version,
	}
	if s.main != nil {
		snap.MainImage = s.main.handle
		snap.HasMainImage = true
	}
	if s.result != nil {
		snap.Result = s.result.handle
		snap.HasResult = true
	}
	return snap
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}
