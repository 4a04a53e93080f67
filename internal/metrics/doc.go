// Package metrics exposes load balancer metrics in the Prometheus format.
//
// It uses a channel-based event pipeline so the request path and the health
// probes never block on metric bookkeeping:
//   - Requests per backend and outcome (forwarded, bad gateway, no backend, rate limited)
//   - Relayed response status codes and durations
//   - Backend health and health transitions
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "http://localhost:8081",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	mux.Handle("/metrics", collector.Handler())
//
// Emit drops events instead of blocking when the buffer is full. On context
// cancellation the collector drains whatever is still buffered before
// closing Done.
package metrics
