package contract_test

import (
	"strings"
	"testing"

	. "github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/stretchr/testify/require"
)

// loadRule round-trips a rule through a minimal book so it is parsed the
// same way production contracts are.
func loadRule(t *testing.T, expr string) *Rule {
	t.Helper()

	yaml := `
tables:
  devices:
    position: 1
    unique_key: [serial_number]
    required_fields: {serial_number: String}
    rules:
      - expr: '` + expr + `'
`
	book, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)

	tc, err := book.Get("devices")
	require.NoError(t, err)
	require.Len(t, tc.Rules, 1)
	return tc.Rules[0]
}

func TestRule_ViolationPredicate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{
			expr: "serial_number NOT NULL",
			want: "`serial_number` IS NULL",
		},
		{
			expr: `part_code MATCHES "^[A-Z]{2}-[0-9]{6}$"`,
			want: "NOT match(toString(`part_code`), '^[A-Z]{2}-[0-9]{6}$')",
		},
		{
			expr: `code MATCHES "^C\\d+$"`,
			want: "NOT match(toString(`code`), '^C\\\\d+$')",
		},
		{
			// A literal trailing backslash must not swallow the closing quote.
			expr: `root_path = "C:\\data\\"`,
			want: "NOT (`root_path` = 'C:\\\\data\\\\')",
		},
		{
			expr: "battery_pct BETWEEN 0 AND 100",
			want: "(`battery_pct` < 0 OR `battery_pct` > 100)",
		},
		{
			expr: `status IN ("active", "retired", "pending")`,
			want: "`status` NOT IN ('active', 'retired', 'pending')",
		},
		{
			expr: "updated_at >= created_at",
			want: "NOT (`updated_at` >= created_at)",
		},
		{
			expr: "battery_pct <= 100",
			want: "NOT (`battery_pct` <= 100)",
		},
		{
			expr: "unit_price > 0.5",
			want: "NOT (`unit_price` > 0.5)",
		},
		{
			expr: `model != "unknown"`,
			want: "NOT (`model` != 'unknown')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			rule := loadRule(t, tt.expr)
			require.Equal(t, tt.want, rule.ViolationPredicate())
		})
	}
}

func TestRule_Defaults(t *testing.T) {
	rule := loadRule(t, "serial_number NOT NULL")
	require.Equal(t, SeverityError, rule.Severity)
	require.Equal(t, CostSample, rule.Cost)
	require.Equal(t, "serial_number NOT NULL", rule.Name)
}

func TestRule_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		rule string
		want string
	}{
		{
			name: "empty expression",
			rule: "- name: empty\n        expr: ''",
			want: "rule has no expression",
		},
		{
			name: "unknown severity",
			rule: "- expr: serial_number NOT NULL\n        severity: fatal",
			want: "unknown severity",
		},
		{
			name: "unknown cost",
			rule: "- expr: serial_number NOT NULL\n        cost: cheap",
			want: "unknown cost class",
		},
		{
			name: "garbage expression",
			rule: "- expr: NOT serial_number IS",
			want: "malformed rule expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := `
tables:
  devices:
    position: 1
    unique_key: [serial_number]
    required_fields: {serial_number: String}
    rules:
      ` + tt.rule + `
`
			book, err := Load(strings.NewReader(yaml))
			require.Error(t, err)
			require.Nil(t, book)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
