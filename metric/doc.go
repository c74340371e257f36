// Package metric provides Prometheus-based metrics collection and an HTTP
// server for broadcast node observability.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (engine status, packet flow, error counts) and
// component-specific metrics, plus an HTTP server exposing everything in
// Prometheus format.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	core := registry.CoreMetrics()
//	core.PacketsDelivered.WithLabelValues(nodeID).Inc()
//
// Components register their own metrics through the MetricsRegistrar
// interface; duplicate registrations are rejected with a classified error.
package metric
