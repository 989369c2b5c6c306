// Package http serves the operational endpoints of tenantguard.
//
// The server exposes no business routes; commands enter the core through
// the service package. Two endpoints are mounted:
//
//	GET /healthz - JSON component health, 503 when a component fails its ping
//	GET /metrics - Prometheus exposition of the shared registry
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	hc := http.NewHealthChecker(version)
//	hc.Register("audit_store", auditStore)
//	srv := http.NewOpsServer(
//	    http.WithAddr("127.0.0.1:9090"),
//	    http.WithRegistry(reg),
//	    http.WithHealthChecker(hc),
//	    http.WithLogger(logger),
//	)
//	err := srv.Start(ctx)
//
// Start blocks until ctx is cancelled, then shuts the server down
// gracefully.
package http
