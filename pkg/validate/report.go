package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

type (
	// CategoryStats summarizes one category across all validated tables.
	CategoryStats struct {
		Passed   int `json:"passed"`
		Failed   int `json:"failed"`
		Warnings int `json:"warnings"`
	}

	// Summary holds the aggregate counters for a validation report.
	Summary struct {
		TotalChecks   int    `json:"total_checks"`
		PassedChecks  int    `json:"passed_checks"`
		FailedChecks  int    `json:"failed_checks"`
		TotalWarnings int    `json:"total_warnings"`
		TotalErrors   int    `json:"total_errors"`
		SuccessRate   string `json:"success_rate"`
	}

	// Report aggregates validation results for output. The JSON form has a
	// stable key set so downstream automation can diff runs.
	Report struct {
		GeneratedAt     time.Time                  `json:"generated_at"`
		Database        string                     `json:"database"`
		Summary         Summary                    `json:"summary"`
		ByCategory      map[Category]CategoryStats `json:"by_category"`
		Results         []*Result                  `json:"results"`
		TotalDurationMS int64                      `json:"total_duration_ms"`
	}
)

// NewReport builds a report from a set of results.
func NewReport(database string, results []*Result) *Report {
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Database:    database,
		ByCategory:  make(map[Category]CategoryStats),
		Results:     results,
	}

	for _, r := range results {
		report.Summary.TotalChecks++
		report.Summary.TotalWarnings += len(r.Warnings)
		report.Summary.TotalErrors += len(r.Errors)
		report.TotalDurationMS += r.DurationMS

		stats := report.ByCategory[r.Category]
		if r.Passed {
			report.Summary.PassedChecks++
			stats.Passed++
		} else {
			report.Summary.FailedChecks++
			stats.Failed++
		}
		stats.Warnings += len(r.Warnings)
		report.ByCategory[r.Category] = stats
	}

	if report.Summary.TotalChecks > 0 {
		rate := float64(report.Summary.PassedChecks) / float64(report.Summary.TotalChecks) * 100
		report.Summary.SuccessRate = fmt.Sprintf("%.1f%%", rate)
	} else {
		report.Summary.SuccessRate = "0%"
	}

	return report
}

// HasErrors reports whether any check failed.
func (r *Report) HasErrors() bool { return r.Summary.FailedChecks > 0 }

// HasWarnings reports whether any check produced warnings.
func (r *Report) HasWarnings() bool { return r.Summary.TotalWarnings > 0 }

// WriteJSON writes the machine-readable report.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(r), "failed to encode validation report")
}

// WriteText writes the human-readable report.
func (r *Report) WriteText(w io.Writer) error {
	p := func(format string, args ...any) { fmt.Fprintf(w, format+"\n", args...) }

	p("Validation results for %s (%s)", r.Database, r.GeneratedAt.Format(time.RFC3339))
	p("")
	p("Summary:")
	p("  Total checks: %d", r.Summary.TotalChecks)
	p("  Passed:       %d", r.Summary.PassedChecks)
	p("  Failed:       %d", r.Summary.FailedChecks)
	p("  Warnings:     %d", r.Summary.TotalWarnings)
	p("  Errors:       %d", r.Summary.TotalErrors)
	p("  Success rate: %s", r.Summary.SuccessRate)
	p("")

	p("By category:")
	for _, cat := range AllCategories {
		stats, ok := r.ByCategory[cat]
		if !ok {
			continue
		}
		p("  %-12s passed=%d failed=%d warnings=%d", cat, stats.Passed, stats.Failed, stats.Warnings)
	}

	var failures, warnings []*Result
	for _, res := range r.Results {
		if !res.Passed {
			failures = append(failures, res)
		}
		if len(res.Warnings) > 0 {
			warnings = append(warnings, res)
		}
	}

	if len(failures) > 0 {
		p("")
		p("Failures (%d):", len(failures))
		for _, res := range failures {
			p("  %s (%s):", res.Table, res.Category)
			for _, msg := range res.Errors {
				p("    - %s", msg)
			}
		}
	}

	if len(warnings) > 0 {
		p("")
		p("Warnings:")
		for _, res := range warnings {
			p("  %s (%s):", res.Table, res.Category)
			for _, msg := range res.Warnings {
				p("    - %s", msg)
			}
		}
	}

	p("")
	p("Total validation time: %dms", r.TotalDurationMS)
	return nil
}
