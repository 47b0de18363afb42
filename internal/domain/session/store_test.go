package session

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/GriffinCanCode/mosaic/internal/display"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strictAllocator records every failed release so tests can assert that no
// handle was ever double-released or released without being allocated
type strictAllocator struct {
	*display.Registry
	mu       sync.Mutex
	failures []error
}

func newStrictAllocator() *strictAllocator {
	return &strictAllocator{Registry: display.NewRegistry()}
}

func (a *strictAllocator) Release(h display.Handle) error {
	err := a.Registry.Release(h)
	if err != nil {
		a.mu.Lock()
		a.failures = append(a.failures, err)
		a.mu.Unlock()
	}
	return err
}

func (a *strictAllocator) assertClean(t *testing.T) {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.failures, "no handle may be released twice")
}

func newTestStore(t *testing.T) (*Store, *strictAllocator) {
	t.Helper()
	alloc := newStrictAllocator()
	return NewStore(alloc, nil), alloc
}

func makeTiles(n int) []Blob {
	tiles := make([]Blob, n)
	for i := range tiles {
		tiles[i] = Blob{Name: "tile.jpg", Data: []byte{byte(i), byte(i >> 8)}}
	}
	return tiles
}

func makePalette(n int) []PaletteEntry {
	p := make([]PaletteEntry, n)
	for i := range p {
		p[i] = PaletteEntry{Index: i, R: 10, G: 20, B: 30}
	}
	return p
}

var (
	mainBlob   = Blob{Name: "main.png", Data: []byte("main")}
	resultBlob = Blob{Name: "mosaic.png", Data: []byte("result")}
	preview    = &PreviewData{Cols: 1, Rows: 1, Blocks: []PreviewBlock{{}}}
)

func TestNewStore(t *testing.T) {
	store, alloc := newTestStore(t)

	assert.NotEmpty(t, store.SessionID())
	assert.Equal(t, DefaultSettings(), store.Settings())
	assert.False(t, store.Busy())
	assert.Equal(t, 0, store.LiveHandles())
	assert.Equal(t, 0, alloc.Live())
}

func TestSetMainImage(t *testing.T) {
	t.Run("allocates and invalidates", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetTileSet(makeTiles(2))
		store.SetPalette(makePalette(2))
		store.SetPreview(preview)
		store.SetResult(&resultBlob)

		store.SetMainImage(&mainBlob)

		blob, handle, ok := store.MainImage()
		require.True(t, ok)
		assert.Equal(t, mainBlob, blob)
		assert.NotEmpty(t, handle)

		assert.Nil(t, store.Preview())
		_, _, hasResult := store.Result()
		assert.False(t, hasResult)
		assert.Len(t, store.Palette(), 2, "palette does not depend on the main image")

		// main + 2 thumbnails
		assert.Equal(t, 3, alloc.Live())
		alloc.assertClean(t)
	})

	t.Run("nil clears without allocating", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetMainImage(&mainBlob)
		store.SetMainImage(nil)

		_, _, ok := store.MainImage()
		assert.False(t, ok)
		assert.Equal(t, 0, alloc.Live())
		assert.Equal(t, uint64(1), alloc.Stats().Allocated)
		alloc.assertClean(t)
	})

	t.Run("replacement releases prior handle", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetMainImage(&mainBlob)
		_, first, _ := store.MainImage()

		store.SetMainImage(&Blob{Name: "other.png", Data: []byte("other")})
		_, second, _ := store.MainImage()

		assert.NotEqual(t, first, second)
		_, stillLive := alloc.Resolve(first)
		assert.False(t, stillLive)
		assert.Equal(t, 1, alloc.Live())
		alloc.assertClean(t)
	})
}

func TestHandleConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for run := 0; run < 20; run++ {
		store, alloc := newTestStore(t)
		var mainSet, resultSet bool

		for step := 0; step < 50; step++ {
			switch rng.IntN(4) {
			case 0:
				store.SetMainImage(&mainBlob)
				// setting the main image also clears the result
				mainSet, resultSet = true, false
			case 1:
				store.SetMainImage(nil)
				mainSet, resultSet = false, false
			case 2:
				store.SetResult(&resultBlob)
				resultSet = true
			case 3:
				store.SetResult(nil)
				resultSet = false
			}

			expected := 0
			if mainSet {
				expected++
			}
			if resultSet {
				expected++
			}
			require.Equal(t, expected, alloc.Live(), "run %d step %d", run, step)
			require.Equal(t, expected, store.LiveHandles())
		}
		alloc.assertClean(t)
	}
}

func TestResultHandleConservation(t *testing.T) {
	store, alloc := newTestStore(t)

	for i := 0; i < 5; i++ {
		store.SetResult(&resultBlob)
		assert.Equal(t, 1, alloc.Live())
	}
	store.SetResult(nil)
	assert.Equal(t, 0, alloc.Live())

	stats := alloc.Stats()
	assert.Equal(t, stats.Allocated, stats.Released)
	alloc.assertClean(t)
}

func TestSetTileSet(t *testing.T) {
	t.Run("idempotent thumbnail count", func(t *testing.T) {
		store, alloc := newTestStore(t)
		tiles := makeTiles(250)

		for i := 0; i < 2; i++ {
			store.SetPalette(makePalette(250))
			store.SetTileSet(tiles)

			assert.Len(t, store.Thumbnails(), ThumbnailLimit)
			assert.Empty(t, store.Palette())
			assert.Equal(t, 250, store.TileCount())
			assert.Equal(t, ThumbnailLimit, alloc.Live())
		}
		alloc.assertClean(t)
	})

	t.Run("clears palette preview and result", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetMainImage(&mainBlob)
		store.SetTileSet(makeTiles(3))
		store.SetPalette(makePalette(3))
		store.SetPreview(preview)
		store.SetResult(&resultBlob)

		store.SetTileSet(makeTiles(4))

		assert.Empty(t, store.Palette())
		assert.Nil(t, store.Preview())
		_, _, hasResult := store.Result()
		assert.False(t, hasResult)
		_, _, hasMain := store.MainImage()
		assert.True(t, hasMain)

		// main + 4 thumbnails
		assert.Equal(t, 5, alloc.Live())
		alloc.assertClean(t)
	})

	t.Run("copies the input slice", func(t *testing.T) {
		store, _ := newTestStore(t)
		tiles := makeTiles(2)
		store.SetTileSet(tiles)

		tiles[0].Name = "mutated"
		assert.Equal(t, "tile.jpg", store.Tiles()[0].Name)
	})
}

func TestAppendTiles(t *testing.T) {
	store, alloc := newTestStore(t)
	store.SetMainImage(&mainBlob)
	store.SetTileSet(makeTiles(150))
	store.SetPalette(makePalette(150))
	store.SetPreview(preview)
	store.SetResult(&resultBlob)

	store.AppendTiles(makeTiles(100))

	assert.Equal(t, 250, store.TileCount())
	assert.Len(t, store.Thumbnails(), ThumbnailLimit)
	assert.Empty(t, store.Palette())
	assert.Nil(t, store.Preview())

	_, _, hasResult := store.Result()
	assert.True(t, hasResult, "appending keeps the result")

	// main + 200 thumbnails + result
	assert.Equal(t, 202, alloc.Live())
	alloc.assertClean(t)

	t.Run("empty append is a no-op", func(t *testing.T) {
		store.SetPalette(makePalette(250))
		before := store.Snapshot().Version

		store.AppendTiles(nil)

		assert.Len(t, store.Palette(), 250)
		assert.Equal(t, before, store.Snapshot().Version)
	})
}

func TestClearTileSet(t *testing.T) {
	store, alloc := newTestStore(t)
	store.SetMainImage(&mainBlob)
	store.SetTileSet(makeTiles(10))
	store.SetPalette(makePalette(10))
	store.SetPreview(preview)
	store.SetResult(&resultBlob)

	store.ClearTileSet()

	assert.Equal(t, 0, store.TileCount())
	assert.Empty(t, store.Thumbnails())
	assert.Empty(t, store.Palette())
	assert.Nil(t, store.Preview())
	assert.Equal(t, 2, alloc.Live(), "main and result stay")
	alloc.assertClean(t)
}

func TestSetPaletteKeepsHandles(t *testing.T) {
	store, alloc := newTestStore(t)
	store.SetTileSet(makeTiles(3))
	before := store.Thumbnails()

	store.SetPalette(makePalette(3))

	assert.Equal(t, before, store.Thumbnails())
	assert.Equal(t, 3, alloc.Live())
}

func TestSetProgressClamps(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetProgress(150)
	assert.Equal(t, 100, store.Progress())

	store.SetProgress(-5)
	assert.Equal(t, 0, store.Progress())

	store.SetProgress(42)
	assert.Equal(t, 42, store.Progress())
}

func TestSetSettings(t *testing.T) {
	t.Run("tile size change clears preview", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.SetPreview(preview)

		s := store.Settings()
		s.TileSize = 60
		require.NoError(t, store.SetSettings(s))

		assert.Nil(t, store.Preview())
		assert.Equal(t, 60, store.Settings().TileSize)
	})

	t.Run("other changes keep preview", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.SetPreview(preview)

		s := store.Settings()
		s.Style = StyleOverlay
		s.ShuffleSources = true
		require.NoError(t, store.SetSettings(s))

		assert.Same(t, preview, store.Preview())
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		s := store.Settings()
		s.TileSize = 1

		err := store.SetSettings(s)
		assert.ErrorIs(t, err, ErrInvalidSettings)
		assert.Equal(t, DefaultSettings(), store.Settings())
	})
}

func TestResetSession(t *testing.T) {
	metrics := monitoring.NewMetrics()
	alloc := newStrictAllocator()
	store := NewStore(alloc, nil).WithMetrics(metrics)

	store.SetMainImage(&mainBlob)
	store.SetTileSet(makeTiles(5))
	store.SetPalette(makePalette(5))
	store.SetPreview(preview)
	store.SetResult(&resultBlob)
	store.SetProgress(100)
	store.SetBusy(OpGenerate, true)
	store.SetError(assert.AnError)
	require.NoError(t, store.SetSettings(Settings{TileSize: 20, Style: StyleTinted, OverlayOpacity: 0.3}))
	oldID := store.SessionID()

	store.ResetSession()

	assert.NotEqual(t, oldID, store.SessionID())
	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, 0, store.LiveHandles())
	assert.Equal(t, 0, store.TileCount())
	assert.Empty(t, store.Palette())
	assert.Nil(t, store.Preview())
	assert.Equal(t, 0, store.Progress())
	assert.False(t, store.Busy())
	assert.Empty(t, store.Err())
	assert.Equal(t, DefaultSettings(), store.Settings())
	alloc.assertClean(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionResets))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.DisplayHandles))
}

func TestOnlyResetRotatesSessionID(t *testing.T) {
	store, _ := newTestStore(t)
	sid := store.SessionID()

	store.SetMainImage(&mainBlob)
	store.SetTileSet(makeTiles(3))
	store.AppendTiles(makeTiles(1))
	store.ClearTileSet()
	store.SetResult(&resultBlob)
	store.Close()

	assert.Equal(t, sid, store.SessionID())
}

func TestBusyAndError(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetBusy(OpAnalyze, true)
	store.SetBusy(OpPreview, true)
	assert.True(t, store.Busy())
	assert.Equal(t, BusyState{Analyzing: true, Previewing: true}, store.BusyState())

	store.SetBusy(OpAnalyze, false)
	assert.True(t, store.Busy())
	store.SetBusy(OpPreview, false)
	assert.False(t, store.Busy())

	store.SetError(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), store.Err())
	store.ClearError()
	assert.Empty(t, store.Err())
}

func TestBeginFinish(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetError(assert.AnError)

	store.Begin(OpGenerate)
	assert.Equal(t, BusyState{Generating: true}, store.BusyState())
	assert.Empty(t, store.Err())

	store.Finish(OpGenerate, nil)
	assert.False(t, store.Busy())
	assert.Empty(t, store.Err())

	store.Begin(OpPreview)
	store.Finish(OpPreview, assert.AnError)
	assert.False(t, store.Busy())
	assert.Equal(t, assert.AnError.Error(), store.Err())
}

func TestAnalysisInput(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetTileSet(makeTiles(3))

	tiles, rev := store.AnalysisInput()
	assert.Len(t, tiles, 3)
	assert.Equal(t, store.Revision(), rev)

	store.AppendTiles(makeTiles(1))
	assert.NotEqual(t, store.Revision().Tiles, rev.Tiles)
	assert.Len(t, tiles, 3)
}

func TestGates(t *testing.T) {
	store, _ := newTestStore(t)
	assert.False(t, store.CanAnalyze())
	assert.False(t, store.CanPreview())
	assert.False(t, store.CanGenerate())

	store.SetTileSet(makeTiles(2))
	assert.True(t, store.CanAnalyze())
	assert.False(t, store.CanGenerate())

	store.SetMainImage(&mainBlob)
	assert.True(t, store.CanGenerate())
	assert.False(t, store.CanPreview(), "preview needs a palette")

	store.SetPalette(makePalette(2))
	assert.True(t, store.CanPreview())
}

func TestRevisionCommits(t *testing.T) {
	t.Run("palette commit rejected after tiles change", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.SetTileSet(makeTiles(2))
		rev := store.Revision()

		store.AppendTiles(makeTiles(1))

		err := store.CommitPalette(rev, makePalette(2), 100)
		assert.ErrorIs(t, err, ErrStaleRevision)
		assert.Empty(t, store.Palette())
		assert.Equal(t, 0, store.Progress())
	})

	t.Run("palette commit rejected after reset", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.SetTileSet(makeTiles(2))
		rev := store.Revision()

		store.ResetSession()

		assert.ErrorIs(t, store.CommitPalette(rev, makePalette(2), 100), ErrStaleRevision)
	})

	t.Run("preview commit rejected after tile size change", func(t *testing.T) {
		store, _ := newTestStore(t)
		store.SetMainImage(&mainBlob)
		rev := store.Revision()

		s := store.Settings()
		s.TileSize = 80
		require.NoError(t, store.SetSettings(s))

		assert.ErrorIs(t, store.CommitPreview(rev, preview), ErrStaleRevision)
		assert.Nil(t, store.Preview())
	})

	t.Run("result commit survives settings change", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetMainImage(&mainBlob)
		rev := store.Revision()

		s := store.Settings()
		s.TileSize = 80
		require.NoError(t, store.SetSettings(s))

		require.NoError(t, store.CommitResult(rev, resultBlob))
		_, _, ok := store.Result()
		assert.True(t, ok)
		assert.Equal(t, 2, alloc.Live())
	})

	t.Run("result commit rejected after main image change", func(t *testing.T) {
		store, alloc := newTestStore(t)
		store.SetMainImage(&mainBlob)
		rev := store.Revision()

		store.SetMainImage(&Blob{Name: "b.png", Data: []byte("b")})

		assert.ErrorIs(t, store.CommitResult(rev, resultBlob), ErrStaleRevision)
		assert.Equal(t, 1, alloc.Live())
	})
}

func TestSubscribe(t *testing.T) {
	store, _ := newTestStore(t)

	var snaps []Snapshot
	unsubscribe := store.Subscribe(func(s Snapshot) {
		snaps = append(snaps, s)
	})

	store.SetTileSet(makeTiles(3))
	store.SetProgress(50)

	require.Len(t, snaps, 2)
	assert.Equal(t, 3, snaps[0].TileCount)
	assert.Len(t, snaps[0].Thumbnails, 3)
	assert.Equal(t, 50, snaps[1].Progress)
	assert.Greater(t, snaps[1].Version, snaps[0].Version)

	unsubscribe()
	store.SetProgress(100)
	assert.Len(t, snaps, 2)
}

func TestSubscriberMayReadStore(t *testing.T) {
	store, _ := newTestStore(t)

	var seen int
	store.Subscribe(func(s Snapshot) {
		// callbacks run outside the lock
		seen = store.TileCount()
	})

	store.SetTileSet(makeTiles(4))
	assert.Equal(t, 4, seen)
}

func TestSubscribersSeeVersionsInOrder(t *testing.T) {
	store, _ := newTestStore(t)

	var (
		mu       sync.Mutex
		versions []uint64
	)
	store.Subscribe(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.SetProgress(i)
				store.AppendTiles(makeTiles(1))
			}
		}()
	}
	wg.Wait()

	require.Len(t, versions, 8*50*2)
	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1], "snapshot %d delivered out of order", i)
	}
}

func TestThumbnailLimitOverride(t *testing.T) {
	alloc := newStrictAllocator()
	store := NewStore(alloc, nil).WithThumbnailLimit(2)

	store.SetTileSet(makeTiles(5))
	assert.Len(t, store.Thumbnails(), 2)
	assert.Equal(t, 2, alloc.Live())
}

func TestConcurrentMutation(t *testing.T) {
	store, alloc := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 4 {
				case 0:
					store.SetMainImage(&mainBlob)
				case 1:
					store.AppendTiles(makeTiles(1))
				case 2:
					store.SetResult(&resultBlob)
				case 3:
					_ = store.Snapshot()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, store.LiveHandles(), alloc.Live())
	alloc.assertClean(t)

	store.ResetSession()
	assert.Equal(t, 0, alloc.Live())
}
