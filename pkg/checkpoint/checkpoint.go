package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type (
	// Status is the migration state of a table within a run.
	Status string

	// Failure is the structured last error carried on a record.
	Failure struct {
		// Category is the classifier's category string (e.g.
		// "transient-network", "schema-error").
		Category string `json:"category"`

		// Message is the raw error text.
		Message string `json:"message"`
	}

	// Record tracks one table's progress through a run. Records are mutated
	// only through Store.Transition.
	Record struct {
		Table            string    `json:"table"`
		RunID            string    `json:"run_id"`
		Status           Status    `json:"status"`
		Attempts         int       `json:"attempt_count"`
		LastError        *Failure  `json:"last_error,omitempty"`
		StartedAt        time.Time `json:"started_at"`
		UpdatedAt        time.Time `json:"updated_at"`
		SourceCount      uint64    `json:"source_count"`
		DestinationCount uint64    `json:"destination_count"`
	}

	// Store persists checkpoint records. Every Transition must be durable
	// before it returns; the engine will not touch the next table until the
	// previous table's transition is on disk (write-after-act ordering, so a
	// crash between act and write always resolves to "not yet done").
	Store interface {
		// Get returns the current record for (runID, table). Tables never
		// written return a Record in StatusUnstarted.
		Get(ctx context.Context, runID, table string) (*Record, error)

		// Transition performs a compare-and-set state change: the stored
		// status must equal from, otherwise ErrConflict is returned. The
		// mutate callback adjusts counters and error details on the record
		// before it is persisted. Returns the stored record.
		Transition(ctx context.Context, runID, table string, from, to Status, mutate func(*Record)) (*Record, error)

		// ResumePoint returns the index of the first table in ordered that
		// is not SUCCEEDED, or len(ordered) when the run is complete.
		ResumePoint(ctx context.Context, runID string, ordered []string) (int, error)

		// List returns all records for a run, in no particular order.
		List(ctx context.Context, runID string) ([]*Record, error)

		// Reset discards every record for a run. This is the only way to
		// "start fresh"; it is never implied.
		Reset(ctx context.Context, runID string) error
	}
)

const (
	StatusUnstarted  Status = "UNSTARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// ErrConflict is returned when a Transition's expected status does not
// match the stored record.
var ErrConflict = errors.New("checkpoint status conflict")

// Terminal reports whether the status ends a table's participation in the
// run. FAILED is only soft-terminal: it may re-enter IN_PROGRESS until the
// engine's attempt cap is reached, so it is not terminal here.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusRolledBack
}

// CanTransition reports whether moving from s to next is a legal state
// machine edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUnstarted:
		return next == StatusInProgress
	case StatusInProgress:
		// IN_PROGRESS → IN_PROGRESS records retry bookkeeping (attempt
		// count, last error) between attempts within one run.
		return next == StatusInProgress || next == StatusSucceeded || next == StatusFailed || next == StatusRolledBack
	case StatusFailed:
		return next == StatusInProgress
	default:
		return false
	}
}

// unstarted returns the canonical zero record for a table.
func unstarted(runID, table string) *Record {
	return &Record{
		Table:  table,
		RunID:  runID,
		Status: StatusUnstarted,
	}
}

// apply validates and performs a transition on a copy of cur, returning the
// new record. Shared by store implementations so they agree on semantics.
func apply(cur *Record, from, to Status, mutate func(*Record), now time.Time) (*Record, error) {
	if cur.Status != from {
		return nil, errors.Wrapf(ErrConflict, "table %s is %s, expected %s", cur.Table, cur.Status, from)
	}
	if !from.CanTransition(to) {
		return nil, errors.Errorf("illegal transition %s -> %s for table %s", from, to, cur.Table)
	}

	next := *cur
	next.Status = to
	next.UpdatedAt = now
	if cur.Status == StatusUnstarted {
		next.StartedAt = now
	}
	if mutate != nil {
		mutate(&next)
	}
	return &next, nil
}
