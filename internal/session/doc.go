// Package session provides the live-call session model and its store.
// Each session owns a bounded task queue drained by a single worker
// goroutine, which gives every stream a strict per-session processing order
// without locks around the work itself. The store maps stream ids to
// sessions with idempotent get-or-create semantics and enforces the global
// session cap.
package session
