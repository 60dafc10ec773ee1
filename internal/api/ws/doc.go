// Package ws lets form hosts connect over WebSocket.
//
// A connected socket becomes a form host: the hub wraps it in an
// in-process remote object whose id the client uses in HTTP form calls,
// and form callbacks are pushed down the socket as JSON events. Closing
// the socket kills the object, which the form service treats as host
// death.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - connected: carries the host_id for later HTTP calls
//   - acquired: first data for a form
//   - update: new data for a form
//   - uninstall: forms removed by their provider
//   - acquire_state: answer to a form state request
//   - pong, error
//
// Example Usage:
//
//	hub := ws.NewHub(logger)
//	router.GET("/hosts/connect", hub.HandleConnection)
//	remote, ok := hub.Lookup(hostID)
package ws
