// Package checkpoint provides durable per-table migration state tracking.
//
// A checkpoint record is the single source of truth for what has and hasn't
// happened to a table within a run. The engine writes a record after every
// state transition and trusts the store over any other signal when resuming
// an interrupted run; observed destination state is used only to
// corroborate, never to override.
//
// The state machine is:
//
//	UNSTARTED → IN_PROGRESS → {SUCCEEDED | FAILED | ROLLED_BACK}
//	FAILED    → IN_PROGRESS   (retry, until the attempt cap)
//
// SUCCEEDED and ROLLED_BACK are terminal for the run. FAILED becomes
// terminal once the attempt cap is reached. Discarding checkpoints is an
// explicit operation (Store.Reset), never a default.
//
// Two implementations are provided: MemoryStore for tests and
// ClickHouseStore which persists records in the shuttle.checkpoints table
// with compare-and-set transition semantics.
package checkpoint
