package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shuttlehq/shuttle/pkg/clickhouse"
	"github.com/shuttlehq/shuttle/pkg/contract"
)

type (
	// Store is the slice of the store client the validation engine needs.
	// All operations are read-only.
	Store interface {
		Columns(ctx context.Context, database, table string) ([]clickhouse.Column, error)
		RowCount(ctx context.Context, database, table string) (uint64, error)
		LastUpdated(ctx context.Context, database, table string, columns []string) (time.Time, error)
		ViolationCount(ctx context.Context, database, table, predicate string, sampleLimit uint64) (uint64, error)
	}

	// Engine validates tables against their contracts.
	Engine struct {
		store       Store
		database    string
		sampleLimit uint64

		// now is overridable for deterministic freshness tests.
		now func() time.Time
	}

	// Config contains options for creating an Engine.
	Config struct {
		// Store is the store client to validate against.
		Store Store

		// Database is the database holding the tables to validate.
		Database string

		// SampleLimit bounds rule evaluation for sample-cost rules.
		// Defaults to DefaultSampleLimit.
		SampleLimit uint64
	}
)

// DefaultSampleLimit is the row bound applied to sample-cost rules when the
// config does not override it.
const DefaultSampleLimit = 10_000

// New creates a validation engine.
func New(cfg Config) *Engine {
	limit := cfg.SampleLimit
	if limit == 0 {
		limit = DefaultSampleLimit
	}

	return &Engine{
		store:       cfg.Store,
		database:    cfg.Database,
		sampleLimit: limit,
		now:         time.Now,
	}
}

// Validate runs the requested categories against a table and returns one
// result per category, in canonical category order. Categories are
// independent and read-only, so they run concurrently; the joined results
// are returned together.
//
// Passing no categories runs all of them.
func (e *Engine) Validate(ctx context.Context, tc *contract.TableContract, categories ...Category) []*Result {
	if len(categories) == 0 {
		categories = AllCategories
	}

	results := make([]*Result, len(categories))
	var wg sync.WaitGroup

	for i, cat := range categories {
		wg.Add(1)
		go func(i int, cat Category) {
			defer wg.Done()
			switch cat {
			case CategorySchema:
				results[i] = e.checkSchema(ctx, tc)
			case CategoryConstraints:
				results[i] = e.checkConstraints(ctx, tc)
			case CategoryFreshness:
				results[i] = e.checkFreshness(ctx, tc)
			default:
				r := newResult(tc.Name, cat)
				r.addError(fmt.Sprintf("unknown validation category %q", cat))
				results[i] = r
			}
		}(i, cat)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return categoryRank(results[i].Category) < categoryRank(results[j].Category)
	})
	return results
}

// InfraError returns the first store/query failure in the set, if any.
// Infrastructure failures are not contract violations; callers that retry
// should consult this before treating a failed result as a violation.
func InfraError(results []*Result) error {
	for _, r := range results {
		if r.InfraErr != nil {
			return r.InfraErr
		}
	}
	return nil
}

// Passed reports whether every result in the set passed.
func Passed(results []*Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func categoryRank(c Category) int {
	for i, known := range AllCategories {
		if c == known {
			return i
		}
	}
	return len(AllCategories)
}

// checkSchema compares the live table's columns against the contract's
// required fields. Missing fields and type mismatches are errors; extra
// unknown fields are warnings only and never block.
func (e *Engine) checkSchema(ctx context.Context, tc *contract.TableContract) *Result {
	start := time.Now()
	result := newResult(tc.Name, CategorySchema)

	cols, err := e.store.Columns(ctx, e.database, tc.Name)
	if err != nil {
		result.addInfraError("schema check failed", err)
		return result.finish(start)
	}

	byName := make(map[string]string, len(cols))
	for _, col := range cols {
		byName[col.Name] = col.Type
	}

	// Deterministic message order regardless of map iteration.
	required := make([]string, 0, len(tc.RequiredFields))
	for name := range tc.RequiredFields {
		required = append(required, name)
	}
	sort.Strings(required)

	for _, name := range required {
		expected := tc.RequiredFields[name]
		actual, ok := byName[name]
		if !ok {
			result.addError(fmt.Sprintf("required field %q missing from schema", name))
			continue
		}
		if !typeMatches(actual, expected) {
			result.addError(fmt.Sprintf("field %q type mismatch: expected %s, got %s", name, expected, actual))
		}
	}

	for _, col := range cols {
		if _, ok := tc.RequiredFields[col.Name]; !ok {
			result.addWarning(fmt.Sprintf("unknown field %q not covered by contract", col.Name))
		}
	}

	return result.finish(start)
}

// checkConstraints evaluates every business rule. A failing error-severity
// rule fails the whole category; warn-severity rules only warn.
func (e *Engine) checkConstraints(ctx context.Context, tc *contract.TableContract) *Result {
	start := time.Now()
	result := newResult(tc.Name, CategoryConstraints)

	for _, rule := range tc.Rules {
		limit := e.sampleLimit
		if rule.Cost == contract.CostFull {
			limit = 0
		}

		count, err := e.store.ViolationCount(ctx, e.database, tc.Name, rule.ViolationPredicate(), limit)
		if err != nil {
			result.addInfraError(fmt.Sprintf("rule %q could not be evaluated", rule.Name), err)
			continue
		}
		if count == 0 {
			continue
		}

		msg := fmt.Sprintf("rule %q violated by %d rows", rule.Name, count)
		if rule.Severity == contract.SeverityWarn {
			result.addWarning(msg)
		} else {
			result.addError(msg)
		}
	}

	return result.finish(start)
}

// checkFreshness compares the table's newest timestamp against the SLA. An
// empty table fails freshness unless the SLA explicitly allows it.
func (e *Engine) checkFreshness(ctx context.Context, tc *contract.TableContract) *Result {
	start := time.Now()
	result := newResult(tc.Name, CategoryFreshness)

	columns := timestampColumns(tc)
	if len(columns) == 0 {
		result.addError("no timestamp fields in contract to evaluate freshness against")
		return result.finish(start)
	}

	latest, err := e.store.LastUpdated(ctx, e.database, tc.Name, columns)
	if err != nil {
		result.addInfraError("freshness check failed", err)
		return result.finish(start)
	}

	if latest.IsZero() {
		if tc.SLA.AllowEmpty {
			result.addWarning("table is empty (allowed by SLA)")
		} else {
			result.addError("table is empty and the SLA does not allow empty tables")
		}
		return result.finish(start)
	}

	staleness := e.now().UTC().Sub(latest)
	maxStale := tc.SLA.MaxStaleness.Std()
	late := tc.SLA.LateArrival.Std()

	switch {
	case maxStale > 0 && staleness > maxStale:
		result.addError(fmt.Sprintf("data is stale: %s > %s max staleness",
			formatStaleness(staleness), formatStaleness(maxStale)))
	case late > 0 && staleness > late:
		result.addWarning(fmt.Sprintf("data approaching staleness: %s > %s late-arrival threshold",
			formatStaleness(staleness), formatStaleness(late)))
	}

	return result.finish(start)
}

// timestampColumns selects the contract fields usable as freshness probes:
// updated_at and created_at when present, otherwise any DateTime field.
func timestampColumns(tc *contract.TableContract) []string {
	var cols []string
	for _, name := range []string{"updated_at", "created_at"} {
		if _, ok := tc.RequiredFields[name]; ok {
			cols = append(cols, name)
		}
	}
	if len(cols) > 0 {
		return cols
	}

	for name, typ := range tc.RequiredFields {
		if strings.Contains(typ, "DateTime") {
			cols = append(cols, name)
		}
	}
	sort.Strings(cols)
	return cols
}

// typeMatches compares a live column type against the contract's expected
// type, treating a Nullable wrapper on the live side as compatible.
func typeMatches(actual, expected string) bool {
	if actual == expected {
		return true
	}
	return actual == "Nullable("+expected+")"
}

func formatStaleness(d time.Duration) string {
	return d.Round(time.Minute).String()
}
