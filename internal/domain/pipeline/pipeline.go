package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/config"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"go.uber.org/zap"
)

// DefaultThreshold is the cumulative batch size that closes a batch
const DefaultThreshold = config.DefaultBatchBytes

// ErrPaletteMisaligned is returned when an analyze response is not the full
// index-aligned palette for the tiles uploaded so far
var ErrPaletteMisaligned = errors.New("palette misaligned with tile set")

// Analyzer uploads one batch of tiles starting at tile index offset and
// returns the session's full palette. The service discards entries at or past
// offset first, so every run starts over at offset 0.
type Analyzer interface {
	Analyze(ctx context.Context, sessionID id.SessionID, offset int, tiles []session.Blob) ([]session.PaletteEntry, error)
}

// Pipeline runs chunked palette analysis against a Store
type Pipeline struct {
	store     *session.Store
	analyzer  Analyzer
	threshold int64
	tracer    *tracing.Tracer
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// New creates a pipeline with the default batch threshold
func New(store *session.Store, analyzer Analyzer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		analyzer:  analyzer,
		threshold: DefaultThreshold,
		tracer:    tracing.New(logger),
		logger:    logger,
	}
}

// WithThreshold overrides the batch size threshold
func (p *Pipeline) WithThreshold(bytes int64) *Pipeline {
	if bytes > 0 {
		p.threshold = bytes
	}
	return p
}

// WithMetrics adds metrics collection to the pipeline
func (p *Pipeline) WithMetrics(metrics *monitoring.Metrics) *Pipeline {
	p.metrics = metrics
	return p
}

// WithTracer replaces the pipeline's tracer
func (p *Pipeline) WithTracer(tracer *tracing.Tracer) *Pipeline {
	if tracer != nil {
		p.tracer = tracer
	}
	return p
}

// Run analyzes the Store's current tile set. An empty tile set is a no-op.
// On failure the palette of completed batches stays in the Store, the error
// is surfaced there and returned. If the tiles or session change during the
// run, it stops with session.ErrStaleRevision and surfaces nothing.
func (p *Pipeline) Run(ctx context.Context) error {
	tiles, rev := p.store.AnalysisInput()
	if len(tiles) == 0 {
		p.logger.Debug("No tiles to analyze")
		p.metrics.ObservePipelineRun(monitoring.OutcomeSkipped)
		return nil
	}

	batches := Partition(tiles, p.threshold)
	span, ctx := p.tracer.StartSpan(ctx, "analyze")
	span.SetTag("batches", strconv.Itoa(len(batches)))
	log := p.logger.With(
		zap.String("session_id", rev.SessionID.String()),
		zap.String("trace_id", string(span.TraceID)),
		zap.Int("tiles", len(tiles)),
		zap.Int("batches", len(batches)))

	p.store.SetProgress(0)
	p.store.Begin(session.OpAnalyze)
	log.Info("Analyzing tiles")

	err := p.upload(ctx, log, rev, batches)
	span.Finish(err)

	switch {
	case err == nil:
		p.store.Finish(session.OpAnalyze, nil)
		p.metrics.ObservePipelineRun(monitoring.OutcomeSuccess)
		log.Info("Tiles analyzed")
	case errors.Is(err, session.ErrStaleRevision):
		p.store.Finish(session.OpAnalyze, nil)
		p.metrics.ObservePipelineRun(monitoring.OutcomeCanceled)
		log.Info("Tile set changed during analysis, discarding run")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.store.Finish(session.OpAnalyze, err)
		p.metrics.ObservePipelineRun(monitoring.OutcomeCanceled)
		log.Warn("Analysis canceled", zap.Error(err))
	default:
		p.store.Finish(session.OpAnalyze, err)
		p.metrics.ObservePipelineRun(monitoring.OutcomeFailed)
		log.Error("Analysis failed", zap.Error(err))
	}
	return err
}

func (p *Pipeline) upload(ctx context.Context, log *zap.Logger, rev session.Revision, batches []Batch) error {
	for i, batch := range batches {
		n := i + 1
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("analyze batch %d/%d: %w", n, len(batches), err)
		}

		log.Debug("Uploading batch",
			zap.Int("batch", n),
			zap.Int("count", batch.Len()),
			zap.Int64("bytes", batch.Size))

		span, batchCtx := p.tracer.StartSpan(ctx, "analyze.batch")
		span.SetTag("batch", strconv.Itoa(n))
		entries, err := p.analyzer.Analyze(batchCtx, rev.SessionID, batch.Start, batch.Tiles)
		if err == nil {
			err = checkAlignment(entries, batch.End)
		}
		span.Finish(err)
		if err != nil {
			p.metrics.ObserveBatch(batchOutcome(err), batch.Size)
			return fmt.Errorf("analyze batch %d/%d: %w", n, len(batches), err)
		}

		progress := int(math.Round(100 * float64(n) / float64(len(batches))))
		if err := p.store.CommitPalette(rev, entries, progress); err != nil {
			p.metrics.ObserveBatch(monitoring.OutcomeCanceled, batch.Size)
			return fmt.Errorf("analyze batch %d/%d: %w", n, len(batches), err)
		}
		p.metrics.ObserveBatch(monitoring.OutcomeSuccess, batch.Size)
	}
	return nil
}

// checkAlignment verifies that entries cover tiles [0, want) in order
func checkAlignment(entries []session.PaletteEntry, want int) error {
	if len(entries) != want {
		return fmt.Errorf("%w: got %d entries, expected %d", ErrPaletteMisaligned, len(entries), want)
	}
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("%w: entry %d has index %d", ErrPaletteMisaligned, i, e.Index)
		}
	}
	return nil
}

func batchOutcome(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return monitoring.OutcomeCanceled
	}
	return monitoring.OutcomeFailed
}
