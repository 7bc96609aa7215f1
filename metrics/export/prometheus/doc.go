// Package prometheus exposes engine counters through client_golang.
//
// [Collector] implements prometheus.Collector and reads one
// [goTrust.Engine.MetricsSnapshot] per scrape. Counters are named
// gotrust_*_total and the validation histogram is
// gotrust_validate_latency_seconds. Register the Collector on an existing
// registry, or mount [Handler] for a standalone /metrics endpoint.
//
// The package never touches the default registry.
package prometheus
