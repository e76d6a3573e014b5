package snapshot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	queryFunc  func(context.Context, string, ...any) (driver.Rows, error)
	execFunc   func(context.Context, string, ...any) error
	existsFunc func(context.Context, string, string) (bool, error)

	execs     []string
	clones    []string
	exchanges []string
	drops     []string
}

func (m *mockStore) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, query, args...)
	}
	return &mockRows{}, nil
}

func (m *mockStore) Exec(ctx context.Context, query string, args ...any) error {
	m.execs = append(m.execs, query)
	if m.execFunc != nil {
		return m.execFunc(ctx, query, args...)
	}
	return nil
}

func (m *mockStore) TableExists(ctx context.Context, database, table string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, database, table)
	}
	return true, nil
}

func (m *mockStore) CloneTable(_ context.Context, srcDB, srcTable, dstDB, dstTable string) error {
	m.clones = append(m.clones, fmt.Sprintf("%s.%s -> %s.%s", srcDB, srcTable, dstDB, dstTable))
	return nil
}

func (m *mockStore) ExchangeTables(_ context.Context, db1, table1, db2, table2 string) error {
	m.exchanges = append(m.exchanges, fmt.Sprintf("%s.%s <-> %s.%s", db1, table1, db2, table2))
	return nil
}

func (m *mockStore) DropTable(_ context.Context, database, table string) error {
	m.drops = append(m.drops, database+"."+table)
	return nil
}

type mockRows struct {
	data [][]any
	pos  int
}

func (m *mockRows) Next() bool {
	if m.pos < len(m.data) {
		m.pos++
		return true
	}
	return false
}

func (m *mockRows) Scan(dest ...any) error {
	row := m.data[m.pos-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func (m *mockRows) Close() error                     { return nil }
func (m *mockRows) Err() error                       { return nil }
func (m *mockRows) Columns() []string                { return nil }
func (m *mockRows) ColumnTypes() []driver.ColumnType { return nil }
func (m *mockRows) ScanStruct(dest any) error        { return nil }
func (m *mockRows) Totals(dest ...any) error         { return nil }

var frozen = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, store *mockStore) *Manager {
	t.Helper()

	m, err := NewManager(context.Background(), Config{
		Store:    store,
		Database: "production",
	})
	require.NoError(t, err)
	m.now = func() time.Time { return frozen }
	store.execs = nil
	return m
}

func TestNewManager(t *testing.T) {
	store := &mockStore{}

	_, err := NewManager(context.Background(), Config{Store: store, Database: "production"})
	require.NoError(t, err)

	require.Len(t, store.execs, 2)
	assert.Contains(t, store.execs[0], "CREATE DATABASE IF NOT EXISTS shuttle")
	assert.Contains(t, store.execs[1], "CREATE TABLE IF NOT EXISTS shuttle.snapshots")
}

func TestManager_Create(t *testing.T) {
	t.Run("clones existing table", func(t *testing.T) {
		store := &mockStore{}
		m := newTestManager(t, store)

		snap, err := m.Create(context.Background(), "devices", "1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")
		require.NoError(t, err)

		require.Equal(t, "devices", snap.Table)
		require.Equal(t, "snap_devices_1b9d6bcdbbfd4b2d9b5dab8dfbbd4bed", snap.CloneTable)
		require.Equal(t, frozen, snap.CreatedAt)
		require.Equal(t, frozen.Add(DefaultRetention), snap.ExpiresAt)

		// Stale clone from a prior attempt is removed, then the table is
		// cloned and the metadata recorded.
		require.Equal(t, []string{"shuttle.snap_devices_1b9d6bcdbbfd4b2d9b5dab8dfbbd4bed"}, store.drops)
		require.Equal(t, []string{"production.devices -> shuttle.snap_devices_1b9d6bcdbbfd4b2d9b5dab8dfbbd4bed"}, store.clones)
		require.Len(t, store.execs, 1)
		assert.Contains(t, store.execs[0], "INSERT INTO shuttle.snapshots")
	})

	t.Run("absent table produces empty snapshot", func(t *testing.T) {
		store := &mockStore{
			existsFunc: func(context.Context, string, string) (bool, error) { return false, nil },
		}
		m := newTestManager(t, store)

		snap, err := m.Create(context.Background(), "devices", "run-1")
		require.NoError(t, err)

		require.Empty(t, snap.CloneTable)
		require.Empty(t, store.clones)
		require.Empty(t, store.drops)
		require.Len(t, store.execs, 1) // metadata only
	})
}

func TestManager_Restore(t *testing.T) {
	t.Run("atomic exchange consumes the clone", func(t *testing.T) {
		store := &mockStore{}
		m := newTestManager(t, store)

		snap := &Snapshot{
			Table:      "devices",
			RunID:      "run-1",
			CloneTable: "snap_devices_run1",
			CreatedAt:  frozen,
			ExpiresAt:  frozen.Add(time.Hour),
		}

		require.NoError(t, m.Restore(context.Background(), snap))
		require.Equal(t, []string{"shuttle.snap_devices_run1 <-> production.devices"}, store.exchanges)
		require.Equal(t, []string{"shuttle.snap_devices_run1"}, store.drops)
	})

	t.Run("missing live table is cloned back", func(t *testing.T) {
		store := &mockStore{
			existsFunc: func(context.Context, string, string) (bool, error) { return false, nil },
		}
		m := newTestManager(t, store)

		snap := &Snapshot{
			Table:      "devices",
			CloneTable: "snap_devices_run1",
			ExpiresAt:  frozen.Add(time.Hour),
		}

		require.NoError(t, m.Restore(context.Background(), snap))
		require.Equal(t, []string{"shuttle.snap_devices_run1 -> production.devices"}, store.clones)
		require.Empty(t, store.exchanges)
	})

	t.Run("empty snapshot drops the table", func(t *testing.T) {
		store := &mockStore{}
		m := newTestManager(t, store)

		snap := &Snapshot{
			Table:     "devices",
			ExpiresAt: frozen.Add(time.Hour),
		}

		require.NoError(t, m.Restore(context.Background(), snap))
		require.Equal(t, []string{"production.devices"}, store.drops)
		require.Empty(t, store.exchanges)
		require.Empty(t, store.clones)
	})

	t.Run("expired snapshot is refused", func(t *testing.T) {
		store := &mockStore{}
		m := newTestManager(t, store)

		snap := &Snapshot{
			Table:      "devices",
			CloneTable: "snap_devices_run1",
			ExpiresAt:  frozen.Add(-time.Minute),
		}

		err := m.Restore(context.Background(), snap)
		require.ErrorIs(t, err, ErrSnapshotExpired)
		require.Empty(t, store.exchanges)
		require.Empty(t, store.drops)
	})
}

func TestManager_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store := &mockStore{
			queryFunc: func(context.Context, string, ...any) (driver.Rows, error) {
				return &mockRows{data: [][]any{
					{"run-1", "devices", "snap_devices_run1", frozen, frozen.Add(24 * time.Hour)},
				}}, nil
			},
		}
		m := newTestManager(t, store)

		snap, err := m.Get(context.Background(), "run-1", "devices")
		require.NoError(t, err)
		require.Equal(t, "devices", snap.Table)
		require.Equal(t, "snap_devices_run1", snap.CloneTable)
		require.Equal(t, frozen.Add(24*time.Hour), snap.ExpiresAt)
	})

	t.Run("not found", func(t *testing.T) {
		store := &mockStore{}
		m := newTestManager(t, store)

		snap, err := m.Get(context.Background(), "run-1", "devices")
		require.ErrorIs(t, err, ErrNoSnapshot)
		require.Nil(t, snap)
	})
}

func TestManager_ExpireOlderThan(t *testing.T) {
	store := &mockStore{
		queryFunc: func(context.Context, string, ...any) (driver.Rows, error) {
			return &mockRows{data: [][]any{
				{"snap_devices_run1"},
				{"snap_readings_run1"},
			}}, nil
		},
	}
	m := newTestManager(t, store)

	dropped, err := m.ExpireOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, dropped)

	require.Equal(t, []string{"shuttle.snap_devices_run1", "shuttle.snap_readings_run1"}, store.drops)
	require.Len(t, store.execs, 1)
	assert.Contains(t, store.execs[0], "DELETE FROM shuttle.snapshots")
}

func TestSnapshot_Expired(t *testing.T) {
	snap := &Snapshot{ExpiresAt: frozen}
	require.False(t, snap.Expired(frozen))
	require.False(t, snap.Expired(frozen.Add(-time.Second)))
	require.True(t, snap.Expired(frozen.Add(time.Second)))
}
