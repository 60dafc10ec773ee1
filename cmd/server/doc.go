// Package main runs the ability framework: the ability lifecycle manager,
// the data ability manager and the form service behind one HTTP and IPC
// front.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000 -ipc localhost:50061 -catalog bundles.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Form hosts attach over GET /hosts/stream and then drive forms through
// the REST endpoints with the returned host id. Remote form providers
// answer through the IPC listener.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
