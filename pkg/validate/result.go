package validate

import (
	"fmt"
	"time"
)

type (
	// Category names one validation layer.
	Category string

	// Result is the outcome of one category for one table. Results are
	// never mutated after the engine returns them.
	Result struct {
		Table    string   `json:"table"`
		Category Category `json:"category"`
		Passed   bool     `json:"passed"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`

		// DurationMS is the wall time the category took, in milliseconds.
		DurationMS int64 `json:"duration_ms"`

		// InfraErr is set when the category could not run because the store
		// was unreachable or a query failed. A result with InfraErr says
		// nothing about the contract; callers must not treat it as a
		// violation.
		InfraErr error `json:"-"`
	}
)

const (
	CategorySchema      Category = "schema"
	CategoryConstraints Category = "constraints"
	CategoryFreshness   Category = "freshness"
)

// AllCategories lists every category in canonical order.
var AllCategories = []Category{CategorySchema, CategoryConstraints, CategoryFreshness}

func newResult(table string, category Category) *Result {
	return &Result{
		Table:    table,
		Category: category,
		Passed:   true,
		Errors:   []string{},
		Warnings: []string{},
	}
}

// addError records a hard validation failure and fails the category.
func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Passed = false
}

// addWarning records a soft issue. Warnings never fail the category.
func (r *Result) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// addInfraError records a store/query failure. The category fails, and the
// underlying error is kept so callers can tell an unreachable store apart
// from a contract violation.
func (r *Result) addInfraError(msg string, err error) {
	if r.InfraErr == nil {
		r.InfraErr = err
	}
	r.addError(fmt.Sprintf("%s: %v", msg, err))
}

func (r *Result) finish(start time.Time) *Result {
	r.DurationMS = time.Since(start).Milliseconds()
	return r
}
