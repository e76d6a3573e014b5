package engine

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/snapshot"
	"github.com/shuttlehq/shuttle/pkg/validate"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{
			name: "nil",
			err:  nil,
			want: CategoryUnknown,
		},
		{
			name: "validation failure",
			err: &validationFailure{stage: "pre-migration", results: []*validate.Result{
				{Table: "devices", Category: validate.CategorySchema, Errors: []string{"required field missing"}},
			}},
			want: CategorySchemaError,
		},
		{
			name: "wrapped validation failure",
			err: errors.Wrap(&validationFailure{stage: "post-migration"},
				"migration of devices"),
			want: CategorySchemaError,
		},
		{
			name: "count mismatch",
			err:  &countMismatch{table: "devices", source: 100, destination: 95},
			want: CategoryCountMismatch,
		},
		{
			name: "expired snapshot",
			err:  errors.Wrap(snapshot.ErrSnapshotExpired, "restore devices"),
			want: CategorySnapshotExpired,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: CategoryTimeout,
		},
		{
			name: "permission message",
			err:  errors.New("code: 497, message: Not enough privileges"),
			want: CategoryPermissionError,
		},
		{
			name: "quota message",
			err:  errors.New("code: 202, message: Too many simultaneous queries"),
			want: CategoryQuotaRateLimit,
		},
		{
			name: "timeout message",
			err:  errors.New("read: connection timed out"),
			want: CategoryTimeout,
		},
		{
			name: "network message",
			err:  errors.New("read tcp 10.0.0.1:9000: connection reset by peer"),
			want: CategoryTransientNetwork,
		},
		{
			name: "resource message",
			err:  errors.New("code: 241, message: Memory limit (for query) exceeded"),
			want: CategoryResourceError,
		},
		{
			name: "schema message",
			err:  errors.New("code: 60, message: Unknown table production.devices"),
			want: CategorySchemaError,
		},
		{
			name: "unclassifiable",
			err:  errors.New("something odd happened"),
			want: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDecide(t *testing.T) {
	const maxAttempts = 4

	tests := []struct {
		name     string
		category Category
		attempt  int
		want     Action
	}{
		{"permission always halts", CategoryPermissionError, 1, ActionHalt},
		{"schema never retries", CategorySchemaError, 1, ActionFail},
		{"count mismatch never retries", CategoryCountMismatch, 1, ActionFail},
		{"snapshot expired never retries", CategorySnapshotExpired, 1, ActionFail},
		{"transient retries", CategoryTransientNetwork, 1, ActionRetry},
		{"transient retries until cap", CategoryTransientNetwork, 3, ActionRetry},
		{"transient exhausted", CategoryTransientNetwork, 4, ActionFail},
		{"quota retries", CategoryQuotaRateLimit, 2, ActionRetry},
		{"quota exhausted", CategoryQuotaRateLimit, 4, ActionFail},
		{"timeout retries once", CategoryTimeout, 1, ActionRetry},
		{"timeout second failure is final", CategoryTimeout, 2, ActionFail},
		{"resource retries once", CategoryResourceError, 1, ActionRetry},
		{"resource second failure is final", CategoryResourceError, 2, ActionFail},
		{"unknown retries once", CategoryUnknown, 1, ActionRetry},
		{"unknown second failure is final", CategoryUnknown, 2, ActionFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decide(tt.category, tt.attempt, maxAttempts))
		})
	}

	t.Run("single-retry categories honor a cap of one", func(t *testing.T) {
		require.Equal(t, ActionFail, Decide(CategoryTimeout, 1, 1))
		require.Equal(t, ActionFail, Decide(CategoryTransientNetwork, 1, 1))
	})
}
