package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/snapshot"
	"github.com/shuttlehq/shuttle/pkg/validate"
)

type (
	// Category is the classifier's bucket for a raw failure. Categories
	// decide retry behavior; see Decide.
	Category string

	// Action is the recovery controller's decision for a failed attempt.
	Action int

	// validationFailure wraps a failed validation stage so the classifier
	// can treat contract violations as non-retryable.
	validationFailure struct {
		stage   string
		results []*validate.Result
	}

	// countMismatch is a source/destination row-count divergence beyond the
	// configured tolerance. Always an error, never a warning.
	countMismatch struct {
		table       string
		source      uint64
		destination uint64
		tolerance   uint64
	}
)

const (
	CategoryTransientNetwork Category = "transient-network"
	CategoryQuotaRateLimit   Category = "quota-rate-limit"
	CategorySchemaError      Category = "schema-error"
	CategoryPermissionError  Category = "permission-error"
	CategoryTimeout          Category = "timeout"
	CategoryResourceError    Category = "resource-error"
	CategoryCountMismatch    Category = "count-mismatch"
	CategorySnapshotExpired  Category = "snapshot-expired"
	CategoryUnknown          Category = "unknown"
)

const (
	// ActionRetry re-attempts the table after a backoff delay.
	ActionRetry Action = iota

	// ActionFail marks the table FAILED and continues with the next table.
	ActionFail

	// ActionHalt aborts the entire run for manual intervention.
	ActionHalt
)

func (e *validationFailure) Error() string {
	var msgs []string
	for _, r := range e.results {
		msgs = append(msgs, r.Errors...)
	}
	return fmt.Sprintf("%s validation failed: %s", e.stage, strings.Join(msgs, "; "))
}

func (e *countMismatch) Error() string {
	return fmt.Sprintf("row count mismatch for %s: source=%d destination=%d (tolerance %d)",
		e.table, e.source, e.destination, e.tolerance)
}

// Classify maps a raw failure to a category. Sentinel errors are checked
// first; everything else falls back to message heuristics matching the
// failure modes the destination store actually produces.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var vf *validationFailure
	if errors.As(err, &vf) {
		return CategorySchemaError
	}
	var cm *countMismatch
	if errors.As(err, &cm) {
		return CategoryCountMismatch
	}
	if errors.Is(err, snapshot.ErrSnapshotExpired) {
		return CategorySnapshotExpired
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "access denied", "permission", "not enough privileges", "authentication failed", "unauthorized"):
		return CategoryPermissionError
	case containsAny(msg, "quota", "rate limit", "too many requests", "too many simultaneous queries"):
		return CategoryQuotaRateLimit
	case containsAny(msg, "timeout", "deadline exceeded", "timed out"):
		return CategoryTimeout
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "no route to host", "eof", "i/o error"):
		return CategoryTransientNetwork
	case containsAny(msg, "memory limit", "not enough space", "too many parts", "disk", "out of memory"):
		return CategoryResourceError
	case containsAny(msg, "unknown table", "unknown identifier", "no such column", "type mismatch", "cannot parse", "syntax error", "doesn't exist"):
		return CategorySchemaError
	default:
		return CategoryUnknown
	}
}

// Decide applies the recovery policy table for a category, given how many
// attempts have already been made and the run's attempt cap.
//
//	transient-network  retry with exponential backoff + jitter, up to cap
//	quota-rate-limit   retry with progressive fixed delays, up to cap
//	schema-error       never retry; fail the table, continue the run
//	permission-error   never retry; halt the entire run
//	timeout            retry once with a larger timeout budget
//	resource-error     retry once after a cooldown
//	count-mismatch     never retry; always a hard failure
//	snapshot-expired   never retry; hard boundary
//	unknown            retry once per generic policy, then fail flagged for review
func Decide(category Category, attempt, maxAttempts int) Action {
	switch category {
	case CategoryPermissionError:
		return ActionHalt
	case CategorySchemaError, CategoryCountMismatch, CategorySnapshotExpired:
		return ActionFail
	case CategoryTimeout, CategoryResourceError, CategoryUnknown:
		if attempt < 2 && attempt < maxAttempts {
			return ActionRetry
		}
		return ActionFail
	case CategoryTransientNetwork, CategoryQuotaRateLimit:
		if attempt < maxAttempts {
			return ActionRetry
		}
		return ActionFail
	default:
		return ActionFail
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
