// Package logging builds the zap logger shared by the mosaic client.
//
// Log lines go to stderr: JSON by default, colored console lines when
// LOG_DEV is set. Each subsystem takes a named child (session, pipeline,
// processing, orchestrator, tracing) and logs with fields rather than
// formatted messages:
//
//	logger, err := logging.FromConfig(cfg.Logging)
//	log := logger.Component("pipeline")
//	log.Info("Analyzing tiles", zap.String("session_id", sid), zap.Int("batches", 3))
package logging
