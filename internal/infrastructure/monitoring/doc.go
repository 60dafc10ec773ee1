/*
Package monitoring provides Prometheus metrics for the ability and form
services.

Each Metrics value owns its registry, so several instances can coexist in
one process (tests build a fresh one per case).

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "form", "add")
	// ... perform operation ...
	timer.Stop("ok")
*/
package monitoring
