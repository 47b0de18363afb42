package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/mosaic/internal/display"
	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/config"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/processing"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"github.com/GriffinCanCode/mosaic/internal/testutil/fakeservice"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedAnalyzer accumulates a palette like the real service and can be
// told to fail or misbehave on a given call
type scriptedAnalyzer struct {
	mu       sync.Mutex
	palette  []session.PaletteEntry
	calls    [][]session.Blob
	sessions []id.SessionID
	offsets  []int

	failOn     int
	failErr    error
	batchLocal bool
	hook       func(n int)
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, sid id.SessionID, offset int, tiles []session.Blob) ([]session.PaletteEntry, error) {
	a.mu.Lock()
	a.calls = append(a.calls, tiles)
	a.sessions = append(a.sessions, sid)
	a.offsets = append(a.offsets, offset)
	n := len(a.calls)
	hook := a.hook
	a.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if n == a.failOn {
		return nil, a.failErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if offset < len(a.palette) {
		a.palette = a.palette[:offset]
	}
	local := make([]session.PaletteEntry, len(tiles))
	for i, t := range tiles {
		index := len(a.palette) + i
		if a.batchLocal {
			index = i
		}
		local[i] = session.PaletteEntry{Index: index, R: float64(t.Data[0])}
	}
	a.palette = append(a.palette, local...)
	if a.batchLocal {
		return local, nil
	}
	return append([]session.PaletteEntry(nil), a.palette...), nil
}

func (a *scriptedAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore(display.NewRegistry(), zap.NewNop())
	t.Cleanup(store.Close)
	return store
}

func sizedTiles(sizes ...int) []session.Blob {
	tiles := make([]session.Blob, len(sizes))
	for i, size := range sizes {
		data := make([]byte, size)
		data[0] = byte(i)
		tiles[i] = session.Blob{Name: "tile", Data: data}
	}
	return tiles
}

// progressRecorder collects distinct progress values the Store publishes
func progressRecorder(store *session.Store) func() []int {
	var mu sync.Mutex
	var seen []int
	last := store.Progress()
	store.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Progress != last {
			seen = append(seen, s.Progress)
			last = s.Progress
		}
	})
	return func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), seen...)
	}
}

func assertAligned(t *testing.T, store *session.Store) {
	t.Helper()
	palette := store.Palette()
	require.Len(t, palette, store.TileCount())
	for i, e := range palette {
		require.Equal(t, i, e.Index)
	}
}

func TestRunEmptyTileSet(t *testing.T) {
	store := newStore(t)
	analyzer := &scriptedAnalyzer{}

	require.NoError(t, New(store, analyzer, nil).Run(context.Background()))
	assert.Zero(t, analyzer.callCount())
	assert.False(t, store.Busy())
}

func TestRunSingleBatch(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(mib, mib, mib))
	analyzer := &scriptedAnalyzer{}

	require.NoError(t, New(store, analyzer, zap.NewNop()).Run(context.Background()))

	require.Equal(t, 1, analyzer.callCount())
	assert.Len(t, analyzer.calls[0], 3)
	assertAligned(t, store)
	assert.Equal(t, 100, store.Progress())
	assert.False(t, store.Busy())
	assert.Empty(t, store.Err())
}

func TestRunTwoBatches(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	progress := progressRecorder(store)

	var busyDuringCalls []bool
	analyzer := &scriptedAnalyzer{}
	analyzer.hook = func(int) {
		busyDuringCalls = append(busyDuringCalls, store.BusyState().Analyzing)
	}

	require.NoError(t, New(store, analyzer, zap.NewNop()).Run(context.Background()))

	require.Equal(t, 2, analyzer.callCount())
	assert.Len(t, analyzer.calls[0], 1)
	assert.Len(t, analyzer.calls[1], 1)
	assert.Equal(t, []int{50, 100}, progress())
	assert.Equal(t, []bool{true, true}, busyDuringCalls)
	assertAligned(t, store)
	assert.False(t, store.Busy())
}

func TestRunProgressCountsBatches(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(3, 3, 3))
	progress := progressRecorder(store)
	analyzer := &scriptedAnalyzer{}

	require.NoError(t, New(store, analyzer, zap.NewNop()).WithThreshold(6).Run(context.Background()))

	assert.Equal(t, 2, analyzer.callCount())
	assert.Equal(t, []int{50, 100}, progress())
}

func TestRunSendsSessionID(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib, 4*mib))
	analyzer := &scriptedAnalyzer{}

	require.NoError(t, New(store, analyzer, zap.NewNop()).Run(context.Background()))

	require.Len(t, analyzer.sessions, 3)
	for _, sid := range analyzer.sessions {
		assert.Equal(t, store.SessionID(), sid)
	}
}

func TestRunBatchFailure(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	analyzer := &scriptedAnalyzer{failOn: 2, failErr: assert.AnError}

	err := New(store, analyzer, zap.NewNop()).Run(context.Background())

	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, analyzer.callCount())

	palette := store.Palette()
	require.Len(t, palette, 1)
	assert.Equal(t, 0, palette[0].Index)
	assert.Equal(t, 50, store.Progress())
	assert.Contains(t, store.Err(), "analyze batch 2/2")
	assert.False(t, store.Busy())
}

func TestRunFailureStopsLaterBatches(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib, 4*mib))
	analyzer := &scriptedAnalyzer{failOn: 1, failErr: assert.AnError}

	require.Error(t, New(store, analyzer, zap.NewNop()).Run(context.Background()))

	assert.Equal(t, 1, analyzer.callCount())
	assert.Empty(t, store.Palette())
	assert.Equal(t, 0, store.Progress())
}

func TestRunMisalignedResponse(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	analyzer := &scriptedAnalyzer{batchLocal: true}

	err := New(store, analyzer, zap.NewNop()).Run(context.Background())

	require.ErrorIs(t, err, ErrPaletteMisaligned)
	assert.Equal(t, 2, analyzer.callCount())
	assert.Len(t, store.Palette(), 1)
	assert.Equal(t, 50, store.Progress())
	assert.NotEmpty(t, store.Err())
}

func TestRunCanceledBetweenBatches(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib, 4*mib))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	analyzer := &scriptedAnalyzer{hook: func(n int) {
		if n == 1 {
			cancel()
		}
	}}

	err := New(store, analyzer, zap.NewNop()).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, analyzer.callCount())
	assert.Len(t, store.Palette(), 1)
	assert.Equal(t, 33, store.Progress())
	assert.Contains(t, store.Err(), "context canceled")
	assert.False(t, store.Busy())
}

func TestRunTileSetChangedMidRun(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	analyzer := &scriptedAnalyzer{hook: func(n int) {
		if n == 1 {
			store.AppendTiles(sizedTiles(10))
		}
	}}

	err := New(store, analyzer, zap.NewNop()).Run(context.Background())

	require.ErrorIs(t, err, session.ErrStaleRevision)
	assert.Equal(t, 1, analyzer.callCount())
	assert.Empty(t, store.Palette())
	assert.Empty(t, store.Err())
	assert.False(t, store.Busy())
}

func TestRunResetsProgress(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	store.SetProgress(100)

	var atFirstCall int
	analyzer := &scriptedAnalyzer{hook: func(n int) {
		if n == 1 {
			atFirstCall = store.Progress()
		}
	}}

	require.NoError(t, New(store, analyzer, zap.NewNop()).Run(context.Background()))
	assert.Equal(t, 0, atFirstCall)
}

func TestRunPaletteAlignedForAnyTileSet(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))

	for round := 0; round < 50; round++ {
		store := newStore(t)
		sizes := make([]int, rng.IntN(40)+1)
		for i := range sizes {
			sizes[i] = rng.IntN(150) + 1
		}
		store.SetTileSet(sizedTiles(sizes...))

		p := New(store, &scriptedAnalyzer{}, zap.NewNop()).WithThreshold(100)
		require.NoError(t, p.Run(context.Background()))

		assertAligned(t, store)
		assert.Equal(t, 100, store.Progress())
	}
}

func TestRunMetrics(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(4*mib, 4*mib))
	metrics := monitoring.NewMetrics()

	p := New(store, &scriptedAnalyzer{failOn: 2, failErr: assert.AnError}, zap.NewNop()).WithMetrics(metrics)
	require.Error(t, p.Run(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues(monitoring.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues(monitoring.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PipelineRuns.WithLabelValues(monitoring.OutcomeFailed)))
}

func TestCheckAlignment(t *testing.T) {
	entries := []session.PaletteEntry{{Index: 0}, {Index: 1}}

	assert.NoError(t, checkAlignment(entries, 2))
	assert.ErrorIs(t, checkAlignment(entries, 3), ErrPaletteMisaligned)
	assert.ErrorIs(t, checkAlignment([]session.PaletteEntry{{Index: 1}, {Index: 0}}, 2), ErrPaletteMisaligned)
}

func newServiceClient(t *testing.T, fake *fakeservice.Service) *processing.Client {
	t.Helper()
	return processing.NewClient(
		config.ServiceConfig{URL: fake.Start(t), Timeout: 5 * time.Second},
		config.RateLimitConfig{},
		zap.NewNop(),
	)
}

func TestRunAgainstService(t *testing.T) {
	fake := fakeservice.New()
	client := newServiceClient(t, fake)
	store := newStore(t)
	store.SetTileSet(sizedTiles(40, 40, 40, 40, 40))

	p := New(store, client, zap.NewNop()).WithThreshold(100)
	require.NoError(t, p.Run(context.Background()))

	calls := fake.CallsTo("analyze")
	require.Len(t, calls, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{len(calls[0].Files), len(calls[1].Files), len(calls[2].Files)})
	assertAligned(t, store)
	assert.Equal(t, fake.Palette(store.SessionID().String()), store.Palette())

	require.NotEmpty(t, calls[0].TraceID)
	for _, call := range calls {
		assert.Equal(t, calls[0].TraceID, call.TraceID)
	}

	require.NoError(t, p.Run(context.Background()))
	rerun := fake.CallsTo("analyze")[3]
	assert.NotEqual(t, calls[0].TraceID, rerun.TraceID)
}

func TestRunTwiceInOneSession(t *testing.T) {
	tests := []struct {
		name    string
		change  func(store *session.Store, tiles []session.Blob)
		tiles   int
		offsets []string
	}{
		{
			name:    "unchanged tile set",
			change:  func(*session.Store, []session.Blob) {},
			tiles:   3,
			offsets: []string{"0", "2"},
		},
		{
			name: "appended tiles",
			change: func(store *session.Store, _ []session.Blob) {
				store.AppendTiles(sizedTiles(40))
			},
			tiles:   4,
			offsets: []string{"0", "2"},
		},
		{
			name: "same tile set replaced",
			change: func(store *session.Store, tiles []session.Blob) {
				store.SetTileSet(tiles)
			},
			tiles:   3,
			offsets: []string{"0", "2"},
		},
		{
			name: "smaller tile set",
			change: func(store *session.Store, tiles []session.Blob) {
				store.SetTileSet(tiles[:1])
			},
			tiles:   1,
			offsets: []string{"0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := fakeservice.New()
			store := newStore(t)
			tiles := sizedTiles(40, 40, 40)
			store.SetTileSet(tiles)
			sid := store.SessionID()
			p := New(store, newServiceClient(t, fake), zap.NewNop()).WithThreshold(100)

			require.NoError(t, p.Run(context.Background()))
			first := len(fake.CallsTo("analyze"))
			tt.change(store, tiles)
			require.NoError(t, p.Run(context.Background()))

			assert.Equal(t, sid, store.SessionID())
			assert.Len(t, store.Palette(), tt.tiles)
			assertAligned(t, store)
			assert.Equal(t, fake.Palette(sid.String()), store.Palette())

			var offsets []string
			for _, call := range fake.CallsTo("analyze")[first:] {
				offsets = append(offsets, call.Fields["offset"])
			}
			assert.Equal(t, tt.offsets, offsets)
		})
	}
}

func TestRunSendsBatchOffsets(t *testing.T) {
	store := newStore(t)
	store.SetTileSet(sizedTiles(3, 3, 3, 3, 3))
	analyzer := &scriptedAnalyzer{}
	p := New(store, analyzer, zap.NewNop()).WithThreshold(6)

	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []int{0, 2, 4, 0, 2, 4}, analyzer.offsets)
	assertAligned(t, store)
}

func TestRunAgainstFailingService(t *testing.T) {
	fake := fakeservice.New()
	fake.FailOn("analyze", 2, fakeservice.Failure{Status: http.StatusInternalServerError, Body: `{"detail":"disk full"}`})
	client := newServiceClient(t, fake)
	store := newStore(t)
	store.SetTileSet(sizedTiles(60, 60, 60))

	err := New(store, client, zap.NewNop()).WithThreshold(100).Run(context.Background())

	var se *processing.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Len(t, fake.CallsTo("analyze"), 2)
	assert.Len(t, store.Palette(), 1)
	assert.Contains(t, store.Err(), "disk full")
}
