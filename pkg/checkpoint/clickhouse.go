package checkpoint

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// Conn is the slice of the store client the checkpoint store needs.
	Conn interface {
		Query(context.Context, string, ...any) (driver.Rows, error)
		Exec(context.Context, string, ...any) error
	}

	// ClickHouseStore persists checkpoint records in shuttle.checkpoints.
	//
	// The table is a ReplacingMergeTree keyed by (run_id, table_name) and
	// versioned by updated_at, so each transition is an append and reads
	// collapse to the latest record with FINAL. Appends are durable once the
	// insert is acknowledged, which satisfies the write-before-proceed
	// contract.
	ClickHouseStore struct {
		conn Conn
	}
)

const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS shuttle.checkpoints (
    run_id String COMMENT 'Run identifier',
    table_name String COMMENT 'Destination table name',
    status String COMMENT 'UNSTARTED, IN_PROGRESS, SUCCEEDED, FAILED or ROLLED_BACK',
    attempts UInt32 COMMENT 'Number of migration attempts so far',
    error_category Nullable(String) COMMENT 'Classifier category of the last error',
    error_message Nullable(String) COMMENT 'Raw text of the last error',
    started_at DateTime64(3, 'UTC') COMMENT 'When the table entered IN_PROGRESS',
    updated_at DateTime64(3, 'UTC') COMMENT 'When this record was written',
    source_count UInt64 COMMENT 'Source row count at last transition',
    destination_count UInt64 COMMENT 'Destination row count at last transition'
)
ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (run_id, table_name)
COMMENT 'Per-table migration checkpoints'`

// NewClickHouseStore creates the durable checkpoint store, bootstrapping
// the shuttle database and checkpoints table if they do not exist yet.
func NewClickHouseStore(ctx context.Context, conn Conn) (*ClickHouseStore, error) {
	ddl := []string{
		`CREATE DATABASE IF NOT EXISTS shuttle ENGINE = Atomic COMMENT 'Shuttle migration engine state'`,
		bootstrapDDL,
	}
	for _, stmt := range ddl {
		if err := conn.Exec(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "failed to bootstrap checkpoint store")
		}
	}
	return &ClickHouseStore{conn: conn}, nil
}

var _ Store = (*ClickHouseStore)(nil)

func (s *ClickHouseStore) Get(ctx context.Context, runID, table string) (*Record, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_name, run_id, status, attempts, error_category, error_message,
		       started_at, updated_at, source_count, destination_count
		FROM shuttle.checkpoints FINAL
		WHERE run_id = ? AND table_name = ?`,
		runID, table,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint for %s", table)
	}
	defer rows.Close()

	if !rows.Next() {
		return unstarted(runID, table), nil
	}
	return scanRecord(rows)
}

// Transition reads the current record, checks the expected status, and
// appends the new version. The read and the insert are two round trips,
// not one atomic statement, so the compare-and-set holds only under a
// single writer per run — which the engine guarantees by processing
// tables strictly sequentially. Concurrent writers to the same run could
// both pass the status check.
func (s *ClickHouseStore) Transition(ctx context.Context, runID, table string, from, to Status, mutate func(*Record)) (*Record, error) {
	cur, err := s.Get(ctx, runID, table)
	if err != nil {
		return nil, err
	}

	next, err := apply(cur, from, to, mutate, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.insert(ctx, next); err != nil {
		return nil, errors.Wrapf(err, "failed to persist checkpoint for %s", table)
	}
	return next, nil
}

func (s *ClickHouseStore) ResumePoint(ctx context.Context, runID string, ordered []string) (int, error) {
	succeeded := make(map[string]bool)

	rows, err := s.conn.Query(ctx, `
		SELECT table_name FROM shuttle.checkpoints FINAL
		WHERE run_id = ? AND status = ?`,
		runID, string(StatusSucceeded),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read succeeded checkpoints")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, errors.Wrap(err, "failed to scan checkpoint row")
		}
		succeeded[name] = true
	}

	for i, table := range ordered {
		if !succeeded[table] {
			return i, nil
		}
	}
	return len(ordered), nil
}

func (s *ClickHouseStore) List(ctx context.Context, runID string) ([]*Record, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_name, run_id, status, attempts, error_category, error_message,
		       started_at, updated_at, source_count, destination_count
		FROM shuttle.checkpoints FINAL
		WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ClickHouseStore) Reset(ctx context.Context, runID string) error {
	err := s.conn.Exec(ctx, `DELETE FROM shuttle.checkpoints WHERE run_id = ?`, runID)
	return errors.Wrapf(err, "failed to reset checkpoints for run %s", runID)
}

func (s *ClickHouseStore) insert(ctx context.Context, rec *Record) error {
	var category, message *string
	if rec.LastError != nil {
		category = &rec.LastError.Category
		message = &rec.LastError.Message
	}

	return s.conn.Exec(ctx, `
		INSERT INTO shuttle.checkpoints (
			run_id, table_name, status, attempts, error_category, error_message,
			started_at, updated_at, source_count, destination_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Table,
		string(rec.Status),
		uint32(rec.Attempts),
		category,
		message,
		rec.StartedAt,
		rec.UpdatedAt,
		rec.SourceCount,
		rec.DestinationCount,
	)
}

func scanRecord(rows driver.Rows) (*Record, error) {
	var (
		rec      Record
		status   string
		attempts uint32
		category *string
		message  *string
	)

	err := rows.Scan(
		&rec.Table, &rec.RunID, &status, &attempts, &category, &message,
		&rec.StartedAt, &rec.UpdatedAt, &rec.SourceCount, &rec.DestinationCount,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan checkpoint record")
	}

	rec.Status = Status(status)
	rec.Attempts = int(attempts)
	if category != nil || message != nil {
		rec.LastError = &Failure{}
		if category != nil {
			rec.LastError.Category = *category
		}
		if message != nil {
			rec.LastError.Message = *message
		}
	}
	return &rec, nil
}
