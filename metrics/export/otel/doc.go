// Package otel publishes authgate metrics through OpenTelemetry asynchronous
// instruments. Names match the Prometheus exporter; the latency histogram is
// flattened into one cumulative gauge per bucket.
package otel
