// Package prometheus renders authgate metrics in Prometheus text exposition
// format.
//
// Counters are named authgate_*_total and the remote call latency histogram
// is authgate_remote_latency_seconds. Two gauges report remote availability.
// Nothing is registered globally; callers mount [PrometheusExporter.Handler].
package prometheus
