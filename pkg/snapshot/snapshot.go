package snapshot

import (
	"strings"
	"time"
)

// Snapshot identifies a point-in-time clone of a table. Snapshots are
// created by Manager.Create and never mutated.
type Snapshot struct {
	// Table is the live table the snapshot was taken of.
	Table string `json:"table"`

	// RunID is the run that created the snapshot.
	RunID string `json:"run_id"`

	// CreatedAt is when the clone was captured.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the end of the retention window. After this time the
	// snapshot is no longer guaranteed restorable.
	ExpiresAt time.Time `json:"expires_at"`

	// CloneTable is the name of the clone inside the shuttle database.
	// Empty when the live table did not exist at snapshot time.
	CloneTable string `json:"clone_table,omitempty"`
}

// Expired reports whether the snapshot's retention window has passed.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// cloneName builds the clone table name for a (table, run) pair. Run ids
// are UUIDs; dashes are stripped so the name stays a plain identifier.
func cloneName(table, runID string) string {
	return "snap_" + table + "_" + strings.ReplaceAll(runID, "-", "")
}
