package tracing

import (
	"context"
	"net/http"
	"time"

	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"go.uber.org/zap"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// TraceID identifies one user action across all of its requests
type TraceID string

// SpanID identifies one step within a trace
type SpanID string

// Span is a single timed step of a trace
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Tags     map[string]string
	Err      error

	tracer *Tracer
}

// Tracer creates spans and logs them when they finish
type Tracer struct {
	logger *zap.Logger
}

// New creates a tracer. Finished spans are logged at debug level.
func New(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{logger: logger}
}

// StartSpan opens a span under the trace carried by ctx, or a new trace if
// ctx has none
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.Default().GenerateWithPrefix(id.TracePrefix))
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.Default().GenerateWithPrefix(id.SpanPrefix)),
		ParentID: SpanIDFrom(ctx),
		Name:     name,
		Start:    time.Now(),
		Tags:     make(map[string]string),
		tracer:   t,
	}

	ctx = context.WithValue(ctx, traceIDKey, span.TraceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// Finish closes the span with the outcome of its step
func (s *Span) Finish(err error) {
	s.Duration = time.Since(s.Start)
	s.Err = err

	fields := []zap.Field{
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.String("operation", s.Name),
		zap.Duration("duration", s.Duration),
	}
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	for k, v := range s.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.tracer.logger.Debug("Span completed", fields...)
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDFrom returns the trace id carried by ctx
func TraceIDFrom(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// SpanIDFrom returns the current span id carried by ctx
func SpanIDFrom(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}

// Inject writes the trace context of ctx into outgoing headers
func Inject(ctx context.Context, header http.Header) {
	if traceID := TraceIDFrom(ctx); traceID != "" {
		header.Set(TraceHeader, string(traceID))
	}
	if spanID := SpanIDFrom(ctx); spanID != "" {
		header.Set(SpanHeader, string(spanID))
	}
}

// Extract returns ctx carrying the trace context found in incoming headers
func Extract(ctx context.Context, header http.Header) context.Context {
	if traceID := header.Get(TraceHeader); traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, TraceID(traceID))
	}
	if spanID := header.Get(SpanHeader); spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, SpanID(spanID))
	}
	return ctx
}
