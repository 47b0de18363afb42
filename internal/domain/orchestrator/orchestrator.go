// Package orchestrator runs the user-facing analyze, preview and generate
// actions against a session store.
package orchestrator

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/mosaic/internal/processing"
	"go.uber.org/zap"
)

// Service is the part of the processing service the orchestrator calls
// directly
type Service interface {
	Preview(ctx context.Context, req processing.PreviewRequest) (*session.PreviewData, error)
	Generate(ctx context.Context, req processing.GenerateRequest) (session.Blob, error)
}

// Runner runs palette analysis for the store's tile set
type Runner interface {
	Run(ctx context.Context) error
}

// Orchestrator sequences actions and their preconditions. It does not queue
// or reject overlapping calls; callers gate on Store.Busy.
type Orchestrator struct {
	store    *session.Store
	pipeline Runner
	service  Service
	tracer   *tracing.Tracer
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates an orchestrator
func New(store *session.Store, pipeline Runner, service Service, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		pipeline: pipeline,
		service:  service,
		tracer:   tracing.New(logger),
		logger:   logger,
	}
}

// WithMetrics adds metrics collection to the orchestrator
func (o *Orchestrator) WithMetrics(metrics *monitoring.Metrics) *Orchestrator {
	o.metrics = metrics
	return o
}

// WithTracer replaces the orchestrator's tracer
func (o *Orchestrator) WithTracer(tracer *tracing.Tracer) *Orchestrator {
	if tracer != nil {
		o.tracer = tracer
	}
	return o
}

// Analyze runs palette analysis. Without tiles it does nothing.
func (o *Orchestrator) Analyze(ctx context.Context) error {
	op := session.OpAnalyze
	if !o.store.CanAnalyze() {
		o.skip(op, "no tiles")
		return nil
	}

	err := o.pipeline.Run(ctx)
	o.metrics.ObserveOperation(op.String(), outcome(err))
	return err
}

// Preview requests a block grid for the main image. It needs a main image
// and a palette; otherwise it does nothing. A failed preview leaves the
// previous one in place.
func (o *Orchestrator) Preview(ctx context.Context) error {
	op := session.OpPreview
	in := o.store.Inputs()
	if !in.HasMain || in.PaletteSize == 0 {
		o.skip(op, "needs main image and palette")
		return nil
	}

	o.store.Begin(op)
	span, ctx := o.tracer.StartSpan(ctx, op.String())
	data, err := o.service.Preview(ctx, processing.PreviewRequest{
		SessionID: in.Revision.SessionID,
		MainImage: in.Main,
		TileSize:  in.Revision.TileSize,
	})
	if err == nil {
		err = o.store.CommitPreview(in.Revision, data)
	}
	span.Finish(err)
	return o.finish(op, err)
}

// Generate renders the mosaic. It needs a main image and tiles; otherwise it
// does nothing. Without a palette the tiles are analyzed first, and a failed
// analysis aborts before any generate request. A failed generate leaves the
// previous result in place.
func (o *Orchestrator) Generate(ctx context.Context) error {
	op := session.OpGenerate
	in := o.store.Inputs()
	if !in.HasMain || in.TileCount == 0 {
		o.skip(op, "needs main image and tiles")
		return nil
	}

	o.store.Begin(op)
	span, ctx := o.tracer.StartSpan(ctx, op.String())

	if in.PaletteSize == 0 {
		o.logger.Info("No palette yet, analyzing tiles before generating",
			zap.Int("tiles", in.TileCount))
		if err := o.pipeline.Run(ctx); err != nil {
			span.Finish(err)
			return o.finish(op, err)
		}
		in = o.store.Inputs()
		if !in.HasMain || in.PaletteSize == 0 {
			span.Finish(session.ErrStaleRevision)
			return o.finish(op, session.ErrStaleRevision)
		}
	}

	blob, err := o.service.Generate(ctx, processing.GenerateRequest{
		SessionID: in.Revision.SessionID,
		MainImage: in.Main,
		Settings:  in.Settings,
	})
	if err == nil {
		err = o.store.CommitResult(in.Revision, blob)
	}
	span.Finish(err)
	return o.finish(op, err)
}

// finish clears the busy flag and surfaces err. A stale revision means the
// inputs moved on, so there is nothing to report for the current session.
func (o *Orchestrator) finish(op session.Operation, err error) error {
	log := o.logger.With(
		zap.String("operation", op.String()),
		zap.String("session_id", o.store.SessionID().String()))

	switch {
	case err == nil:
		o.store.Finish(op, nil)
		log.Info("Operation completed")
	case errors.Is(err, session.ErrStaleRevision):
		o.store.Finish(op, nil)
		log.Info("Inputs changed during operation, result discarded")
	default:
		o.store.Finish(op, err)
		log.Error("Operation failed", zap.Error(err))
	}

	o.metrics.ObserveOperation(op.String(), outcome(err))
	return err
}

func (o *Orchestrator) skip(op session.Operation, reason string) {
	o.logger.Debug("Precondition not met, skipping",
		zap.String("operation", op.String()),
		zap.String("reason", reason))
	o.metrics.ObserveOperation(op.String(), monitoring.OutcomeSkipped)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return monitoring.OutcomeSuccess
	case errors.Is(err, session.ErrStaleRevision),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return monitoring.OutcomeCanceled
	default:
		return monitoring.OutcomeFailed
	}
}
