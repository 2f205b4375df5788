// Package metrics collects relay statistics for the proxy.
//
// Relays and the health checker emit MetricEvents into a buffered channel; a
// single collector goroutine folds them into:
//   - accepted client connections per upstream
//   - relayed responses by status code and bytes written
//   - exchange durations with percentiles (P50, P95, P99)
//   - upstream failures by reason
//   - upstream health
//
// Every event also updates a Prometheus registry, so the same numbers can be
// scraped from /metrics or read as a JSON snapshot from /stats. Sends never
// block the relay: when the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseRelayed,
//		Upstream:   "127.0.0.1:9000",
//		Duration:   150 * time.Millisecond,
//		StatusCode: "200",
//		Bytes:      512,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
