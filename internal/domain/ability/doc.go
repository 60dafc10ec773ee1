// Package ability implements the ability lifecycle: records and their
// state machine, the lifecycle deal that forwards transitions to the
// remote scheduler, caller and call bookkeeping, missions, and the Manager
// that owns every record.
//
// Records live in an Arena and refer to each other by record id. All
// mutable record state is owned by the Manager's task queue; transport
// goroutines (death notifications, scheduler callbacks) post onto that
// queue instead of touching records directly. Only the scheduler link is
// guarded by its own lock because death notifications read it.
package ability
