// Package prometheus renders credcore engine metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps a [credcore.Engine] and exposes an
// [http.Handler]. Counters are named credcore_*_total; the single histogram
// is credcore_validate_latency_seconds.
//
// Nothing is registered globally; callers mount the Handler themselves.
package prometheus
