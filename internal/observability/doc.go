// Package observability builds the gateway's zap loggers and Prometheus
// collectors.
//
// Metrics live on a private registry. The collector implements the
// orchestrator's metrics hook and exposes an HTTP middleware for request
// counts and latencies.
package observability
