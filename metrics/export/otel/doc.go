// Package otel reports identityflow engine metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Counters become Int64ObservableCounter instruments. The latency histogram
// is flattened into one cumulative bucket gauge with an "le" attribute and a
// count gauge. One callback reads the engine snapshot per collection.
package otel
