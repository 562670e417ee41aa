// Package metrics defines the Prometheus instrumentation for the gateway:
// media frame counters, session lifecycle gauges, pipeline stage timings,
// and HTTP API request metrics.
package metrics
