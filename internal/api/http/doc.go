// Package http provides the REST API over the form and ability services.
//
// Hosts first open a WebSocket (see package ws) and then name themselves
// by host_id in form calls. The caller uid travels in the X-Caller-UID
// header.
//
// Endpoints:
//   - Health: / and /health
//   - Forms: /forms, /forms/:id and its actions
//   - Lifecycle: /hosts/:uid, /providers/:bundle
//   - Dumps: /dump/forms/*, /dump/abilities, /dump/data-abilities
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Options{Forms: adapter, Hosts: hub})
//	router.POST("/forms", handlers.AddForm)
//	router.GET("/dump/forms/:id", handlers.DumpFormByID)
package http
