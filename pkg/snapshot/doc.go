// Package snapshot manages point-in-time table snapshots for rollback.
//
// A snapshot is a server-side clone of a table's schema and data, created
// before any destructive write in a run and consumed only by rollback.
// Clones live in the shuttle database next to the checkpoint records and
// carry a retention window (24h by default) after which they are no longer
// guaranteed restorable; restoring an expired snapshot fails with
// ErrSnapshotExpired, which is a hard boundary and never retried.
//
// Restore replaces the live table atomically (EXCHANGE TABLES). If the live
// table no longer exists it is recreated from the clone; if the snapshot
// recorded that the table did not exist yet, restore drops the live table,
// returning it to its exact pre-migration state.
package snapshot
