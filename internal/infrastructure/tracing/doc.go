/*
Package tracing correlates the requests made for one user action.

A span is opened per action and per step (one analyze batch, one service
request). Spans share the trace id of the action that started them, and the
processing client sends it to the service in the X-Trace-ID header so that
service-side logs for a chunked analysis can be joined back together.

	span, ctx := tracer.StartSpan(ctx, "analyze")
	defer func() { span.Finish(err) }()

	tracing.Inject(ctx, req.Header)

Finished spans are written to the logger at debug level. There is no
exporter.
*/
package tracing
