package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/shuttlehq/shuttle/pkg/snapshot"
	"github.com/shuttlehq/shuttle/pkg/validate"
)

type (
	// DataStore is the slice of the store client the engine writes through.
	DataStore interface {
		RowCount(ctx context.Context, database, table string) (uint64, error)
		UpsertFrom(ctx context.Context, srcDB, dstDB, table string, keys []string) error
	}

	// Snapshotter creates and restores table snapshots.
	Snapshotter interface {
		Create(ctx context.Context, table, runID string) (*snapshot.Snapshot, error)
		Restore(ctx context.Context, snap *snapshot.Snapshot) error
		Get(ctx context.Context, runID, table string) (*snapshot.Snapshot, error)
	}

	// Validator validates one table against its contract.
	Validator interface {
		Validate(ctx context.Context, tc *contract.TableContract, categories ...validate.Category) []*validate.Result
	}

	// Config contains the engine's collaborators and policy knobs.
	Config struct {
		// Book is the loaded, validated contract book for the run.
		Book *contract.Book

		// Checkpoints is the durable checkpoint store.
		Checkpoints checkpoint.Store

		// Snapshots manages pre-write snapshots.
		Snapshots Snapshotter

		// SourceValidator validates tables in the staging database.
		SourceValidator Validator

		// DestinationValidator validates tables in the production database.
		DestinationValidator Validator

		// Store performs counts and the upsert merge.
		Store DataStore

		// SourceDB and DestinationDB are the staging and production
		// database names.
		SourceDB      string
		DestinationDB string

		// MaxAttempts caps retries per table. Defaults to 4.
		MaxAttempts int

		// CountTolerance is the allowed source/destination row-count
		// divergence. Defaults to 0.
		CountTolerance uint64

		// TableTimeout is the per-table time budget. Defaults to 10m. A
		// timeout retry runs with a doubled budget.
		TableTimeout time.Duration

		// Logger defaults to slog.Default().
		Logger *slog.Logger

		// OnProgress, when set, receives a progress snapshot before each
		// table starts.
		OnProgress func(Progress)
	}

	// Engine drives migration runs. Create one with New.
	Engine struct {
		cfg   Config
		log   *slog.Logger
		calls atomic.Int64

		// sleep and random are overridable for deterministic tests.
		sleep  func(ctx context.Context, d time.Duration) error
		random func() float64
	}

	// RunOptions selects what a run covers.
	RunOptions struct {
		// RunID identifies the run and its checkpoint namespace. Empty
		// generates a fresh id; passing a previous id resumes that run.
		RunID string

		// Tables restricts the run to matching contract names (exact or
		// glob-style). Empty selects every contracted table.
		Tables []string
	}

	tableCounts struct {
		source      uint64
		destination uint64
	}

	tableSignal int
)

const (
	signalNone tableSignal = iota
	signalHalt
	signalCancelled
)

const (
	defaultMaxAttempts  = 4
	defaultTableTimeout = 10 * time.Minute
)

// New creates a migration engine.
func New(cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.TableTimeout <= 0 {
		cfg.TableTimeout = defaultTableTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		log:    cfg.Logger,
		sleep:  sleepCtx,
		random: rand.Float64,
	}
}

// Run drives one migration run to completion and returns its summary.
//
// Tables are processed strictly sequentially in contract order, starting
// from the checkpoint store's resume point. A table already SUCCEEDED is
// never re-entered, and a FAILED table that exhausted its attempt cap is
// reported as failed without another write; only an explicit reset makes
// the engine touch it again. The returned error is non-nil only for
// failures that prevented the run from producing a trustworthy summary
// (e.g. an unusable contract book or checkpoint store); per-table failures
// are reported in the summary, not as an error.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	tables, err := e.cfg.Book.Select(opts.Tables)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	names := make([]string, len(tables))
	for i, tc := range tables {
		names[i] = tc.Name
	}

	resume, err := e.cfg.Checkpoints.ResumePoint(ctx, runID, names)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute resume point")
	}

	start := time.Now()
	summary := &Summary{
		RunID:       runID,
		TotalTables: len(tables),
		Skipped:     resume,
		StartedAt:   start.UTC(),
	}

	e.log.Info("starting run",
		"run_id", runID,
		"tables", len(tables),
		"resume_index", resume,
	)

	avg := newMovingAverage(5)

	for i := resume; i < len(tables); i++ {
		// Cancellation is honored at table boundaries only.
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		tc := tables[i]

		rec, err := e.cfg.Checkpoints.Get(ctx, runID, tc.Name)
		if err != nil {
			return summary, errors.Wrapf(err, "failed to read checkpoint for %s", tc.Name)
		}
		if rec.Status == checkpoint.StatusSucceeded {
			summary.Skipped++
			continue
		}
		if rec.Status == checkpoint.StatusRolledBack {
			summary.record(TableOutcome{Table: tc.Name, Status: rec.Status, Attempts: rec.Attempts})
			continue
		}
		if rec.Status == checkpoint.StatusFailed && rec.Attempts >= e.cfg.MaxAttempts {
			// The attempt cap was reached in a previous process; only an
			// explicit reset may re-enter this table.
			summary.record(TableOutcome{
				Table:     tc.Name,
				Status:    rec.Status,
				Attempts:  rec.Attempts,
				LastError: rec.LastError,
			})
			e.log.Warn("table already failed terminally, not re-entering",
				"table", tc.Name,
				"attempts", rec.Attempts,
			)
			continue
		}

		e.reportProgress(summary, i, tc.Name, avg)

		tableStart := time.Now()
		outcome, signal := e.migrateTable(ctx, runID, tc)
		outcome.DurationMS = time.Since(tableStart).Milliseconds()
		outcome.FinishedAt = time.Now().UTC()
		avg.add(time.Since(tableStart))

		summary.record(outcome)

		if signal == signalHalt {
			summary.Halted = true
			e.log.Error("run halted for manual intervention", "table", tc.Name)
			break
		}
		if signal == signalCancelled {
			summary.Cancelled = true
			break
		}
	}

	summary.ExternalCalls = e.calls.Load()
	summary.DurationMS = time.Since(start).Milliseconds()

	e.log.Info("run finished",
		"run_id", runID,
		"succeeded", summary.Succeeded+summary.Skipped,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"halted", summary.Halted,
	)
	return summary, nil
}

// Rollback restores a table to its pre-migration snapshot and records the
// ROLLED_BACK transition. Only in-progress or failed tables can be rolled
// back; an expired snapshot surfaces snapshot.ErrSnapshotExpired.
func (e *Engine) Rollback(ctx context.Context, runID, table string) error {
	snap, err := e.cfg.Snapshots.Get(ctx, runID, table)
	if err != nil {
		return err
	}

	rec, err := e.cfg.Checkpoints.Get(ctx, runID, table)
	if err != nil {
		return errors.Wrapf(err, "failed to read checkpoint for %s", table)
	}

	if rec.Status == checkpoint.StatusFailed {
		rec, err = e.cfg.Checkpoints.Transition(ctx, runID, table,
			checkpoint.StatusFailed, checkpoint.StatusInProgress, nil)
		if err != nil {
			return err
		}
	}
	if rec.Status != checkpoint.StatusInProgress {
		return errors.Errorf("table %s is %s; only IN_PROGRESS or FAILED tables can be rolled back", table, rec.Status)
	}

	if err := e.cfg.Snapshots.Restore(ctx, snap); err != nil {
		return err
	}

	_, err = e.cfg.Checkpoints.Transition(ctx, runID, table,
		checkpoint.StatusInProgress, checkpoint.StatusRolledBack, nil)
	return err
}

// migrateTable drives one table's attempt loop.
func (e *Engine) migrateTable(ctx context.Context, runID string, tc *contract.TableContract) (TableOutcome, tableSignal) {
	out := TableOutcome{Table: tc.Name}
	budget := e.cfg.TableTimeout

	rec, err := e.cfg.Checkpoints.Get(ctx, runID, tc.Name)
	if err != nil {
		return e.checkpointLost(out, err)
	}

	attempt := rec.Attempts
	resumedInFlight := rec.Status == checkpoint.StatusInProgress

	for {
		attempt++

		rec, err = e.cfg.Checkpoints.Transition(ctx, runID, tc.Name,
			rec.Status, checkpoint.StatusInProgress,
			func(r *checkpoint.Record) { r.Attempts = attempt })
		if err != nil {
			return e.checkpointLost(out, err)
		}

		if resumedInFlight {
			// The previous process died mid-attempt, possibly after issuing
			// the write without seeing its acknowledgment. The merge is an
			// idempotent upsert, so re-applying is safe; the destination
			// count is logged to corroborate, never to override.
			e.corroborate(ctx, tc)
			resumedInFlight = false
		}

		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		counts, warnings, attemptErr := e.attempt(attemptCtx, runID, tc)
		cancel()

		out.Attempts = attempt
		out.Warnings += warnings
		out.SourceCount = counts.source
		out.DestinationCount = counts.destination

		if attemptErr == nil {
			_, err = e.cfg.Checkpoints.Transition(ctx, runID, tc.Name,
				checkpoint.StatusInProgress, checkpoint.StatusSucceeded,
				func(r *checkpoint.Record) {
					r.SourceCount = counts.source
					r.DestinationCount = counts.destination
					r.LastError = nil
				})
			if err != nil {
				return e.checkpointLost(out, err)
			}

			out.Status = checkpoint.StatusSucceeded
			e.log.Info("table migrated",
				"table", tc.Name,
				"attempts", attempt,
				"rows", counts.destination,
			)
			return out, signalNone
		}

		category := Classify(attemptErr)
		failure := &checkpoint.Failure{Category: string(category), Message: attemptErr.Error()}
		out.LastError = failure

		switch Decide(category, attempt, e.cfg.MaxAttempts) {
		case ActionRetry:
			// Stay IN_PROGRESS (retry-pending) so a resume lands back here.
			_, err = e.cfg.Checkpoints.Transition(ctx, runID, tc.Name,
				checkpoint.StatusInProgress, checkpoint.StatusInProgress,
				func(r *checkpoint.Record) { r.LastError = failure })
			if err != nil {
				return e.checkpointLost(out, err)
			}

			if category == CategoryTimeout {
				budget *= 2
			}

			delay := WithJitter(category, Delay(category, attempt), e.random())
			e.log.Warn("table attempt failed, retrying",
				"table", tc.Name,
				"attempt", attempt,
				"category", string(category),
				"delay", delay,
				"error", attemptErr,
			)

			if err := e.sleep(ctx, delay); err != nil {
				out.Status = checkpoint.StatusInProgress
				return out, signalCancelled
			}
			rec, err = e.cfg.Checkpoints.Get(ctx, runID, tc.Name)
			if err != nil {
				return e.checkpointLost(out, err)
			}
			continue

		case ActionHalt:
			e.recordFailed(ctx, runID, tc.Name, failure, counts)
			out.Status = checkpoint.StatusFailed
			return out, signalHalt

		default:
			e.recordFailed(ctx, runID, tc.Name, failure, counts)
			out.Status = checkpoint.StatusFailed
			e.log.Error("table failed",
				"table", tc.Name,
				"attempts", attempt,
				"category", string(category),
				"error", attemptErr,
			)
			return out, signalNone
		}
	}
}

// attempt performs a single migration attempt: snapshot, pre-validate,
// write, post-validate, count check. The snapshot always precedes the
// write, and the write always precedes post-validation.
func (e *Engine) attempt(ctx context.Context, runID string, tc *contract.TableContract) (tableCounts, int, error) {
	var counts tableCounts
	warnings := 0

	e.calls.Add(1)
	if _, err := e.cfg.Snapshots.Create(ctx, tc.Name, runID); err != nil {
		return counts, warnings, errors.Wrapf(err, "failed to snapshot %s", tc.Name)
	}

	e.calls.Add(2)
	pre := e.cfg.SourceValidator.Validate(ctx, tc, validate.CategorySchema, validate.CategoryConstraints)
	warnings += countWarnings(pre)
	// A store outage during validation is not a contract violation; surface
	// the raw error so the classifier sees a retryable category.
	if err := validate.InfraError(pre); err != nil {
		return counts, warnings, errors.Wrapf(err, "pre-migration validation of %s could not run", tc.Name)
	}
	if !validate.Passed(pre) {
		return counts, warnings, &validationFailure{stage: "pre-migration", results: pre}
	}

	e.calls.Add(1)
	if err := e.cfg.Store.UpsertFrom(ctx, e.cfg.SourceDB, e.cfg.DestinationDB, tc.Name, tc.UniqueKey); err != nil {
		return counts, warnings, errors.Wrapf(err, "migration write for %s failed", tc.Name)
	}

	e.calls.Add(2)
	post := e.cfg.DestinationValidator.Validate(ctx, tc, validate.CategorySchema, validate.CategoryFreshness)
	warnings += countWarnings(post)
	if err := validate.InfraError(post); err != nil {
		return counts, warnings, errors.Wrapf(err, "post-migration validation of %s could not run", tc.Name)
	}
	if !validate.Passed(post) {
		return counts, warnings, &validationFailure{stage: "post-migration", results: post}
	}

	e.calls.Add(2)
	src, err := e.cfg.Store.RowCount(ctx, e.cfg.SourceDB, tc.Name)
	if err != nil {
		return counts, warnings, errors.Wrapf(err, "failed to count source rows of %s", tc.Name)
	}
	dst, err := e.cfg.Store.RowCount(ctx, e.cfg.DestinationDB, tc.Name)
	if err != nil {
		return counts, warnings, errors.Wrapf(err, "failed to count destination rows of %s", tc.Name)
	}

	counts = tableCounts{source: src, destination: dst}
	if absDiff(src, dst) > e.cfg.CountTolerance {
		return counts, warnings, &countMismatch{
			table:       tc.Name,
			source:      src,
			destination: dst,
			tolerance:   e.cfg.CountTolerance,
		}
	}

	return counts, warnings, nil
}

// corroborate logs observed destination state when resuming an ambiguous
// in-flight attempt. The checkpoint record remains the source of truth.
func (e *Engine) corroborate(ctx context.Context, tc *contract.TableContract) {
	e.calls.Add(1)
	count, err := e.cfg.Store.RowCount(ctx, e.cfg.DestinationDB, tc.Name)
	if err != nil {
		e.log.Warn("could not corroborate destination state", "table", tc.Name, "error", err)
		return
	}
	e.log.Info("resuming in-flight table, destination corroborated",
		"table", tc.Name,
		"destination_rows", count,
	)
}

// recordFailed persists a terminal FAILED transition. A checkpoint write
// failure here is logged but does not mask the table's own failure.
func (e *Engine) recordFailed(ctx context.Context, runID, table string, failure *checkpoint.Failure, counts tableCounts) {
	_, err := e.cfg.Checkpoints.Transition(ctx, runID, table,
		checkpoint.StatusInProgress, checkpoint.StatusFailed,
		func(r *checkpoint.Record) {
			r.LastError = failure
			r.SourceCount = counts.source
			r.DestinationCount = counts.destination
		})
	if err != nil {
		e.log.Error("failed to record FAILED checkpoint", "table", table, "error", err)
	}
}

// checkpointLost converts a checkpoint store failure into a halting
// outcome. Proceeding without durable checkpoints would break the resume
// contract.
func (e *Engine) checkpointLost(out TableOutcome, err error) (TableOutcome, tableSignal) {
	out.Status = checkpoint.StatusFailed
	out.LastError = &checkpoint.Failure{
		Category: string(CategoryUnknown),
		Message:  errors.Wrap(err, "checkpoint store unusable").Error(),
	}
	return out, signalHalt
}

func (e *Engine) reportProgress(s *Summary, index int, current string, avg *movingAverage) {
	remaining := s.TotalTables - index
	prog := Progress{
		RunID:        s.RunID,
		TotalTables:  s.TotalTables,
		Completed:    index,
		CurrentTable: current,
		ETA:          avg.value() * time.Duration(remaining),
	}

	e.log.Info("migrating table",
		"table", current,
		"position", index+1,
		"total", s.TotalTables,
		"eta", prog.ETA,
	)
	if e.cfg.OnProgress != nil {
		e.cfg.OnProgress(prog)
	}
}

func countWarnings(results []*validate.Result) int {
	n := 0
	for _, r := range results {
		n += len(r.Warnings)
	}
	return n
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation between zero-delay retries.
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
