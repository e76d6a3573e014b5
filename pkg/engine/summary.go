package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
)

type (
	// TableOutcome is the final state of one table within a run.
	TableOutcome struct {
		Table            string              `json:"table"`
		Status           checkpoint.Status   `json:"status"`
		Attempts         int                 `json:"attempt_count"`
		LastError        *checkpoint.Failure `json:"last_error,omitempty"`
		Warnings         int                 `json:"warnings"`
		SourceCount      uint64              `json:"source_count"`
		DestinationCount uint64              `json:"destination_count"`
		DurationMS       int64               `json:"duration_ms"`
		FinishedAt       time.Time           `json:"finished_at"`
	}

	// Summary is the result of a run. A run is overall successful only when
	// every table reached SUCCEEDED; partial success is a valid, reportable
	// outcome, not an exception.
	Summary struct {
		RunID         string         `json:"run_id"`
		TotalTables   int            `json:"total_tables"`
		Succeeded     int            `json:"succeeded"`
		Failed        int            `json:"failed"`
		RolledBack    int            `json:"rolled_back"`
		Skipped       int            `json:"skipped"`
		Cancelled     bool           `json:"cancelled"`
		Halted        bool           `json:"halted"`
		Warnings      int            `json:"warnings"`
		Outcomes      []TableOutcome `json:"outcomes"`
		FailedTables  []TableOutcome `json:"failed_tables"`
		ExternalCalls int64          `json:"external_calls"`
		StartedAt     time.Time      `json:"started_at"`
		DurationMS    int64          `json:"duration_ms"`
	}

	// Progress is a point-in-time view of a running migration, suitable for
	// both logging and machine consumption.
	Progress struct {
		RunID        string        `json:"run_id"`
		TotalTables  int           `json:"total_tables"`
		Completed    int           `json:"completed"`
		CurrentTable string        `json:"current_table"`
		ETA          time.Duration `json:"eta_ns"`
	}

	// movingAverage tracks per-table durations over a sliding window to
	// estimate time remaining.
	movingAverage struct {
		window []time.Duration
		size   int
	}
)

// Exit codes for the CLI surface.
const (
	ExitSuccess     = 0
	ExitHardFailure = 1
	ExitSoftFailure = 2
)

func newMovingAverage(size int) *movingAverage {
	return &movingAverage{size: size}
}

func (m *movingAverage) add(d time.Duration) {
	m.window = append(m.window, d)
	if len(m.window) > m.size {
		m.window = m.window[1:]
	}
}

func (m *movingAverage) value() time.Duration {
	if len(m.window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.window {
		sum += d
	}
	return sum / time.Duration(len(m.window))
}

func (s *Summary) record(out TableOutcome) {
	s.Outcomes = append(s.Outcomes, out)
	s.Warnings += out.Warnings

	switch out.Status {
	case checkpoint.StatusSucceeded:
		s.Succeeded++
	case checkpoint.StatusRolledBack:
		s.RolledBack++
	case checkpoint.StatusFailed:
		s.Failed++
		s.FailedTables = append(s.FailedTables, out)
	default:
		// Cancelled mid-table: the record stays resumable and counts as
		// neither success nor failure.
	}
}

// Success reports whether every table reached SUCCEEDED.
func (s *Summary) Success() bool {
	return !s.Cancelled && !s.Halted && s.Succeeded+s.Skipped == s.TotalTables
}

// ExitCode maps the run outcome onto the process exit code contract:
// 0 for full success, 1 for any hard failure, 2 when only soft issues
// occurred and the caller opted into failing on warnings.
func (s *Summary) ExitCode(failOnWarn bool) int {
	if s.Failed > 0 || s.Halted || s.Cancelled {
		return ExitHardFailure
	}
	if failOnWarn && s.Warnings > 0 {
		return ExitSoftFailure
	}
	return ExitSuccess
}

// WriteJSON writes the machine-readable summary. The key set is stable so
// downstream automation can diff runs.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(s), "failed to encode run summary")
}

// WriteText writes the human-readable summary: every non-SUCCEEDED table is
// listed with its failure category, sufficient to resume or remediate
// without re-reading logs.
func (s *Summary) WriteText(w io.Writer) error {
	p := func(format string, args ...any) { fmt.Fprintf(w, format+"\n", args...) }

	status := "complete"
	switch {
	case s.Cancelled:
		status = "cancelled"
	case s.Halted:
		status = "halted"
	}

	p("Run %s (%s)", s.RunID, status)
	p("")
	p("Tables:     %d total", s.TotalTables)
	p("Succeeded:  %d (%d resumed as already done)", s.Succeeded+s.Skipped, s.Skipped)
	p("Failed:     %d", s.Failed)
	p("RolledBack: %d", s.RolledBack)
	p("Warnings:   %d", s.Warnings)
	p("Calls:      %d external", s.ExternalCalls)
	p("Duration:   %dms", s.DurationMS)

	if len(s.FailedTables) > 0 {
		p("")
		p("Failed tables:")
		for _, out := range s.FailedTables {
			category := "unknown"
			message := ""
			if out.LastError != nil {
				category = out.LastError.Category
				message = out.LastError.Message
			}
			p("  %s [%s] after %d attempt(s): %s", out.Table, category, out.Attempts, message)
		}
	}
	return nil
}
