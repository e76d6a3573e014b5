package snapshot

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
)

type (
	// Store is the slice of the store client the snapshot manager needs.
	Store interface {
		Query(context.Context, string, ...any) (driver.Rows, error)
		Exec(context.Context, string, ...any) error
		TableExists(ctx context.Context, database, table string) (bool, error)
		CloneTable(ctx context.Context, srcDB, srcTable, dstDB, dstTable string) error
		ExchangeTables(ctx context.Context, db1, table1, db2, table2 string) error
		DropTable(ctx context.Context, database, table string) error
	}

	// Manager creates and restores table snapshots.
	Manager struct {
		store     Store
		database  string
		retention time.Duration

		// now is overridable for tests.
		now func() time.Time
	}

	// Config contains options for creating a Manager.
	Config struct {
		// Store is the destination store client.
		Store Store

		// Database is the database holding the live tables.
		Database string

		// Retention is the snapshot retention window. Defaults to 24h.
		Retention time.Duration
	}
)

const (
	// DefaultRetention is the retention window applied when Config.Retention
	// is zero.
	DefaultRetention = 24 * time.Hour

	// shuttleDB is the engine-owned database holding clones and metadata.
	shuttleDB = "shuttle"
)

// ErrSnapshotExpired is returned by Restore when the snapshot's retention
// window has passed. It is distinct from other failures and never
// retryable.
var ErrSnapshotExpired = errors.New("snapshot expired")

// ErrNoSnapshot is returned by Get when no snapshot exists for the
// requested (table, run) pair.
var ErrNoSnapshot = errors.New("no snapshot")

const metadataDDL = `
CREATE TABLE IF NOT EXISTS shuttle.snapshots (
    run_id String COMMENT 'Run that captured the snapshot',
    table_name String COMMENT 'Live table the snapshot was taken of',
    clone_table String COMMENT 'Clone table name; empty when the live table did not exist',
    created_at DateTime64(3, 'UTC') COMMENT 'Capture time',
    expires_at DateTime64(3, 'UTC') COMMENT 'End of the retention window'
)
ENGINE = ReplacingMergeTree(created_at)
ORDER BY (run_id, table_name)
COMMENT 'Snapshot metadata for rollback'`

// NewManager creates a snapshot manager, bootstrapping the shuttle database
// and snapshot metadata table if needed.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	retention := cfg.Retention
	if retention == 0 {
		retention = DefaultRetention
	}

	ddl := []string{
		`CREATE DATABASE IF NOT EXISTS shuttle ENGINE = Atomic COMMENT 'Shuttle migration engine state'`,
		metadataDDL,
	}
	for _, stmt := range ddl {
		if err := cfg.Store.Exec(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "failed to bootstrap snapshot store")
		}
	}

	return &Manager{
		store:     cfg.Store,
		database:  cfg.Database,
		retention: retention,
		now:       time.Now,
	}, nil
}

// Create captures a snapshot of a live table for the given run. The clone
// is a server-side copy-on-write clone: parts are attached, not rewritten,
// so capture cost does not scale with table size. A table that does not
// exist yet produces an empty snapshot whose restore removes the table
// again.
func (m *Manager) Create(ctx context.Context, table, runID string) (*Snapshot, error) {
	now := m.now().UTC()
	snap := &Snapshot{
		Table:     table,
		RunID:     runID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.retention),
	}

	exists, err := m.store.TableExists(ctx, m.database, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check table %s before snapshot", table)
	}

	if exists {
		snap.CloneTable = cloneName(table, runID)
		if err := m.store.DropTable(ctx, shuttleDB, snap.CloneTable); err != nil {
			return nil, err
		}
		if err := m.store.CloneTable(ctx, m.database, table, shuttleDB, snap.CloneTable); err != nil {
			return nil, errors.Wrapf(err, "failed to snapshot %s", table)
		}
	}

	if err := m.record(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Restore replaces the live table's contents and schema with the
// snapshot's, atomically. Restoring an expired snapshot fails with
// ErrSnapshotExpired.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if snap.Expired(m.now().UTC()) {
		return errors.Wrapf(ErrSnapshotExpired, "snapshot of %s from run %s expired at %s",
			snap.Table, snap.RunID, snap.ExpiresAt.Format(time.RFC3339))
	}

	// Empty snapshot: the table did not exist before the run.
	if snap.CloneTable == "" {
		return m.store.DropTable(ctx, m.database, snap.Table)
	}

	exists, err := m.store.TableExists(ctx, m.database, snap.Table)
	if err != nil {
		return errors.Wrapf(err, "failed to check table %s before restore", snap.Table)
	}

	if !exists {
		return m.store.CloneTable(ctx, shuttleDB, snap.CloneTable, m.database, snap.Table)
	}

	if err := m.store.ExchangeTables(ctx, shuttleDB, snap.CloneTable, m.database, snap.Table); err != nil {
		return errors.Wrapf(err, "failed to restore %s", snap.Table)
	}

	// The exchange left the pre-restore contents in the clone slot; the
	// snapshot is consumed, so drop it.
	return m.store.DropTable(ctx, shuttleDB, snap.CloneTable)
}

// Get returns the snapshot for a (run, table) pair, or ErrNoSnapshot.
func (m *Manager) Get(ctx context.Context, runID, table string) (*Snapshot, error) {
	rows, err := m.store.Query(ctx, `
		SELECT run_id, table_name, clone_table, created_at, expires_at
		FROM shuttle.snapshots FINAL
		WHERE run_id = ? AND table_name = ?`,
		runID, table,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read snapshot for %s", table)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, errors.Wrapf(ErrNoSnapshot, "table %s, run %s", table, runID)
	}

	var snap Snapshot
	if err := rows.Scan(&snap.RunID, &snap.Table, &snap.CloneTable, &snap.CreatedAt, &snap.ExpiresAt); err != nil {
		return nil, errors.Wrap(err, "failed to scan snapshot row")
	}
	return &snap, nil
}

// ExpireOlderThan drops all snapshot clones older than the given age and
// removes their metadata.
func (m *Manager) ExpireOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := m.now().UTC().Add(-age)

	rows, err := m.store.Query(ctx, `
		SELECT clone_table FROM shuttle.snapshots FINAL
		WHERE created_at < ? AND clone_table != ''`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list expired snapshots")
	}
	defer rows.Close()

	var clones []string
	for rows.Next() {
		var clone string
		if err := rows.Scan(&clone); err != nil {
			return 0, errors.Wrap(err, "failed to scan snapshot row")
		}
		clones = append(clones, clone)
	}

	for _, clone := range clones {
		if err := m.store.DropTable(ctx, shuttleDB, clone); err != nil {
			return 0, err
		}
	}

	if err := m.store.Exec(ctx, `DELETE FROM shuttle.snapshots WHERE created_at < ?`, cutoff); err != nil {
		return 0, errors.Wrap(err, "failed to delete expired snapshot metadata")
	}
	return len(clones), nil
}

func (m *Manager) record(ctx context.Context, snap *Snapshot) error {
	err := m.store.Exec(ctx, `
		INSERT INTO shuttle.snapshots (run_id, table_name, clone_table, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.RunID, snap.Table, snap.CloneTable, snap.CreatedAt, snap.ExpiresAt,
	)
	return errors.Wrapf(err, "failed to record snapshot of %s", snap.Table)
}
