package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/GriffinCanCode/mosaic/internal/display"
	"github.com/GriffinCanCode/mosaic/internal/domain/orchestrator"
	"github.com/GriffinCanCode/mosaic/internal/domain/pipeline"
	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/config"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/logging"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/mosaic/internal/inputs"
	"github.com/GriffinCanCode/mosaic/internal/processing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	serviceURL string
	logLevel   string
	metrics    bool
}

// app is one wired client: store, pipeline and orchestrator over a
// processing service connection
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	registry *display.Registry
	store    *session.Store
	client   *processing.Client
	orch     *orchestrator.Orchestrator

	out         io.Writer
	errOut      io.Writer
	printStats  bool
	unsubscribe func()
}

func newApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.serviceURL != "" {
		cfg.Service.URL = opts.serviceURL
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics()
	}

	tracer := tracing.New(logger.Component("tracing"))
	registry := display.NewRegistry()
	store := session.NewStore(registry, logger.Component("session")).
		WithMetrics(metrics).
		WithThumbnailLimit(cfg.Upload.ThumbnailLimit)

	client := processing.NewClient(cfg.Service, cfg.RateLimit, logger.Component("processing")).
		WithMetrics(metrics).
		WithTracer(tracer)

	p := pipeline.New(store, client, logger.Component("pipeline")).
		WithThreshold(cfg.Upload.BatchBytes).
		WithMetrics(metrics).
		WithTracer(tracer)

	orch := orchestrator.New(store, p, client, logger.Component("orchestrator")).
		WithMetrics(metrics).
		WithTracer(tracer)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		registry:   registry,
		store:      store,
		client:     client,
		orch:       orch,
		out:        cmd.OutOrStdout(),
		errOut:     cmd.ErrOrStderr(),
		printStats: opts.metrics,
	}
	a.unsubscribe = store.Subscribe(a.reportProgress())

	logger.Debug("Client configured",
		zap.String("service_url", cfg.Service.URL),
		zap.String("session_id", store.SessionID().String()),
		zap.Int64("batch_bytes", cfg.Upload.BatchBytes))

	return a, nil
}

// reportProgress prints analysis progress whenever it changes
func (a *app) reportProgress() func(session.Snapshot) {
	var mu sync.Mutex
	last := -1
	return func(s session.Snapshot) {
		if !s.Busy.Analyzing {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if s.Progress == last {
			return
		}
		last = s.Progress
		fmt.Fprintf(a.errOut, "analyzing %d tiles: %d%%\n", s.TileCount, s.Progress)
	}
}

// loadTiles discovers tile images and puts them into the store
func (a *app) loadTiles(ctx context.Context, sources []string) error {
	paths, err := inputs.Discover(ctx, sources)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no tile images found in %v", sources)
	}
	tiles, err := inputs.Load(ctx, paths)
	if err != nil {
		return err
	}
	a.store.SetTileSet(tiles)
	a.logger.Info("Tiles loaded", zap.Int("count", len(tiles)))
	return nil
}

// loadMain reads the main image into the store
func (a *app) loadMain(path string) error {
	blob, err := inputs.LoadFile(path)
	if err != nil {
		return err
	}
	a.store.SetMainImage(&blob)
	return nil
}

func (a *app) close() {
	a.unsubscribe()
	a.store.Close()
	if a.printStats {
		a.writeMetrics()
	}
	if live := a.registry.Live(); live != 0 {
		a.logger.Warn("Display handles leaked", zap.Int("live", live))
	}
	_ = a.logger.Sync()
}

// writeMetrics prints counter and gauge samples from the registry
func (a *app) writeMetrics() {
	if a.metrics == nil {
		return
	}
	families, err := a.metrics.Registry().Gather()
	if err != nil || len(families) == 0 {
		return
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("%s=%q,", lp.GetName(), lp.GetValue())
			}
			if labels != "" {
				labels = "{" + labels[:len(labels)-1] + "}"
			}
			lines = append(lines, fmt.Sprintf("%s%s %g", mf.GetName(), labels, value))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(a.errOut, l)
	}
}
