package checkpoint_test

import (
	"context"
	"testing"
	"time"

	. "github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/stretchr/testify/require"
)

func TestStatus_Terminal(t *testing.T) {
	require.True(t, StatusSucceeded.Terminal())
	require.True(t, StatusRolledBack.Terminal())

	// FAILED may re-enter IN_PROGRESS, so it is not terminal.
	require.False(t, StatusFailed.Terminal())
	require.False(t, StatusUnstarted.Terminal())
	require.False(t, StatusInProgress.Terminal())
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusUnstarted, StatusInProgress, true},
		{StatusUnstarted, StatusSucceeded, false},
		{StatusUnstarted, StatusFailed, false},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusSucceeded, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusRolledBack, true},
		{StatusInProgress, StatusUnstarted, false},
		{StatusFailed, StatusInProgress, true},
		{StatusFailed, StatusSucceeded, false},
		{StatusFailed, StatusRolledBack, false},
		{StatusSucceeded, StatusInProgress, false},
		{StatusRolledBack, StatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestMemoryStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec, err := store.Get(ctx, "run-1", "devices")
	require.NoError(t, err)
	require.Equal(t, StatusUnstarted, rec.Status)
	require.Equal(t, "devices", rec.Table)
	require.Equal(t, "run-1", rec.RunID)
	require.Zero(t, rec.Attempts)
}

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.Now = func() time.Time { return now }

	t.Run("full lifecycle", func(t *testing.T) {
		rec, err := store.Transition(ctx, "run-1", "devices", StatusUnstarted, StatusInProgress, func(r *Record) {
			r.Attempts = 1
		})
		require.NoError(t, err)
		require.Equal(t, StatusInProgress, rec.Status)
		require.Equal(t, 1, rec.Attempts)
		require.Equal(t, now, rec.StartedAt)

		rec, err = store.Transition(ctx, "run-1", "devices", StatusInProgress, StatusSucceeded, func(r *Record) {
			r.SourceCount = 100
			r.DestinationCount = 100
		})
		require.NoError(t, err)
		require.Equal(t, StatusSucceeded, rec.Status)
		require.Equal(t, uint64(100), rec.SourceCount)

		// The stored record reflects the transition.
		rec, err = store.Get(ctx, "run-1", "devices")
		require.NoError(t, err)
		require.Equal(t, StatusSucceeded, rec.Status)
		require.Equal(t, uint64(100), rec.DestinationCount)
	})

	t.Run("compare and set conflict", func(t *testing.T) {
		_, err := store.Transition(ctx, "run-1", "devices", StatusInProgress, StatusFailed, nil)
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("illegal edge", func(t *testing.T) {
		_, err := store.Transition(ctx, "run-1", "orders", StatusUnstarted, StatusSucceeded, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "illegal transition")
	})

	t.Run("failed retries as in progress", func(t *testing.T) {
		_, err := store.Transition(ctx, "run-1", "readings", StatusUnstarted, StatusInProgress, nil)
		require.NoError(t, err)

		failure := &Failure{Category: "transient-network", Message: "connection reset"}
		rec, err := store.Transition(ctx, "run-1", "readings", StatusInProgress, StatusFailed, func(r *Record) {
			r.LastError = failure
		})
		require.NoError(t, err)
		require.Equal(t, failure, rec.LastError)

		rec, err = store.Transition(ctx, "run-1", "readings", StatusFailed, StatusInProgress, func(r *Record) {
			r.Attempts++
		})
		require.NoError(t, err)
		require.Equal(t, StatusInProgress, rec.Status)
		require.Equal(t, 1, rec.Attempts)
	})
}

func TestMemoryStore_ResumePoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ordered := []string{"devices", "readings", "rollups_daily"}

	succeed := func(table string) {
		_, err := store.Transition(ctx, "run-1", table, StatusUnstarted, StatusInProgress, nil)
		require.NoError(t, err)
		_, err = store.Transition(ctx, "run-1", table, StatusInProgress, StatusSucceeded, nil)
		require.NoError(t, err)
	}

	// Nothing done yet.
	i, err := store.ResumePoint(ctx, "run-1", ordered)
	require.NoError(t, err)
	require.Equal(t, 0, i)

	succeed("devices")
	i, err = store.ResumePoint(ctx, "run-1", ordered)
	require.NoError(t, err)
	require.Equal(t, 1, i)

	// An in-flight table is the resume point.
	_, err = store.Transition(ctx, "run-1", "readings", StatusUnstarted, StatusInProgress, nil)
	require.NoError(t, err)
	i, err = store.ResumePoint(ctx, "run-1", ordered)
	require.NoError(t, err)
	require.Equal(t, 1, i)

	_, err = store.Transition(ctx, "run-1", "readings", StatusInProgress, StatusSucceeded, nil)
	require.NoError(t, err)
	succeed("rollups_daily")

	i, err = store.ResumePoint(ctx, "run-1", ordered)
	require.NoError(t, err)
	require.Equal(t, len(ordered), i)

	// Runs are independent namespaces.
	i, err = store.ResumePoint(ctx, "run-2", ordered)
	require.NoError(t, err)
	require.Equal(t, 0, i)
}

func TestMemoryStore_ListAndReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, table := range []string{"devices", "readings"} {
		_, err := store.Transition(ctx, "run-1", table, StatusUnstarted, StatusInProgress, nil)
		require.NoError(t, err)
	}
	_, err := store.Transition(ctx, "run-2", "devices", StatusUnstarted, StatusInProgress, nil)
	require.NoError(t, err)

	records, err := store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, store.Reset(ctx, "run-1"))

	records, err = store.List(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, records)

	// Other runs are untouched.
	records, err = store.List(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
}
