// Package formmgr is the host-facing form service.
//
// The Adapter validates every request against the caller identity carried
// in the context, resolves form metadata through the bundle manager and
// then drives the form record store, the persistent form cache, the
// refresh timers and the provider manager.
//
// Components:
//   - Adapter: add, delete, release, update, cast and event flows
//   - Host and provider lifecycle handling (host death, uninstall)
//   - Text dumps of records, stored forms and timers
//
// Operations on the same form id are serialized with a striped lock.
// Provider calls are fire-and-forget: a request accepted here reports its
// outcome later through the host callbacks.
//
// Example Usage:
//
//	adapter := formmgr.New(formmgr.Options{Data: data, DB: db, Cache: c,
//		Timers: timers, Providers: providers, Bundles: catalog})
//	ctx = ipc.WithCaller(ctx, ipc.Caller{UID: uid})
//	info, err := adapter.AddForm(ctx, 0, want, host)
package formmgr
