// Package store provides the SQLite-backed durable persistence layer for
// dialogs, the product catalog, orders and dead-letter records.
//
// The store is the crash-consistent source of truth: the hot dialog cache in
// package dialog is written through to it, and order snapshots are immutable
// once created. Callers bound every operation with a context deadline; busy
// database errors are retried with exponential backoff before being surfaced
// as transient failures.
package store
