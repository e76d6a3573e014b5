// Package engine drives checkpointed migration runs.
//
// The engine processes tables strictly sequentially in contract order,
// which keeps checkpoint semantics trivially consistent: there is never
// more than one writer per checkpoint record. For each unfinished table it
// snapshots, validates the source, applies an idempotent upsert merge,
// validates the destination, cross-checks row counts, and records the
// outcome durably before moving on. Failures are classified into categories
// with fixed retry policies; only permission errors halt the whole run.
//
// Resuming an interrupted run trusts the checkpoint store over observed
// destination state. A record stuck IN_PROGRESS (crash mid-attempt, or a
// write whose acknowledgment was lost) is resolved by re-validating the
// destination and re-applying the merge, which is safe because the merge is
// an upsert keyed by the contract's unique key columns.
//
// Cancellation is honored at table boundaries: an in-flight table finishes
// its current step, the run records resumable state and exits with a
// distinct cancelled status.
package engine
