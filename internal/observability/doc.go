// Package observability provides structured logging and metrics for the
// router, the cache and the relay server.
//
// Logging is zap-based. Metrics are Prometheus collectors registered on a
// per-instance registry so several routers can coexist in one process.
package observability
