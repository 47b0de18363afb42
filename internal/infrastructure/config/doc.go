// Package config provides 12-factor configuration for the mosaic client.
//
// Configuration is loaded from environment variables with sensible defaults.
// The CLI loads a .env file first and lets flags override individual values.
//
// Configuration Sections:
//   - Service: processing service base URL, timeout, retries
//   - Upload: analyze batch threshold and thumbnail handle limit
//   - Logging: log level and output format
//   - RateLimit: client-side request rate limit
//   - Metrics: whether Prometheus collectors are registered
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	client := processing.NewClient(cfg.Service, logger)
//
// Environment Variables:
//   - SERVICE_URL, SERVICE_TIMEOUT, SERVICE_RETRIES
//   - UPLOAD_BATCH_BYTES, UPLOAD_THUMBNAIL_LIMIT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
//   - METRICS_ENABLED
package config
