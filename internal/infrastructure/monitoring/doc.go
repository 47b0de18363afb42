/*
Package monitoring provides Prometheus metrics for a mosaic session.

# Overview

The client records what it sends to the processing service and how the
session evolves: request latency per endpoint, uploaded bytes, analyze
batches, pipeline outcomes, live display handles and current progress.

Each Metrics owns its registry, so several sessions (or tests) can hold
collectors side by side without duplicate-registration panics. A nil
*Metrics is valid and records nothing.

# Usage

	metrics := monitoring.NewMetrics()

	timer := monitoring.NewTimer(metrics, "analyze")
	// ... perform request ...
	timer.Stop("200")

	metrics.ObserveBatch(monitoring.OutcomeSuccess, 4<<20)

# Exposition

	http.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
*/
package monitoring
