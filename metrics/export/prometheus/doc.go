// Package prometheus exposes identityflow engine metrics to Prometheus.
//
// [Collector] implements prometheus.Collector over an engine's metrics
// snapshot. Values are read at scrape time, so nothing is double counted
// and the engine keeps its lock-free counters.
package prometheus
