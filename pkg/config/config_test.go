package config_test

import (
	_ "embed"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/shuttle.yaml
var testConfigYAML string

func TestLoadConfig(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		config, err := LoadConfig(strings.NewReader(testConfigYAML))
		require.NoError(t, err)
		validateTestConfig(t, config)
	})

	t.Run("error", func(t *testing.T) {
		// Invalid YAML
		config, err := LoadConfig(strings.NewReader("invalid: yaml: ["))
		require.Error(t, err)
		require.Nil(t, config)
		require.Contains(t, err.Error(), "failed to unmarshal shuttle config")

		// Empty input
		config, err = LoadConfig(strings.NewReader(""))
		require.Error(t, err)
		require.Nil(t, config)
		require.Contains(t, err.Error(), "failed to unmarshal shuttle config")

		// Valid YAML missing required fields
		config, err = LoadConfig(strings.NewReader("other_key: value"))
		require.Error(t, err)
		require.Nil(t, config)
		require.Contains(t, err.Error(), "contract book")
	})
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		config, err := LoadConfigFile("testdata/shuttle.yaml")
		require.NoError(t, err)
		validateTestConfig(t, config)
	})

	t.Run("error", func(t *testing.T) {
		// Nonexistent file
		config, err := LoadConfigFile("nonexistent.yaml")
		require.Error(t, err)
		require.Nil(t, config)
		require.Contains(t, err.Error(), "failed to open file")

		// Directory instead of file
		tempDir, err := os.MkdirTemp("", "shuttle_test_dir")
		require.NoError(t, err)
		defer os.RemoveAll(tempDir)

		config, err = LoadConfigFile(tempDir)
		require.Error(t, err)
		require.Nil(t, config)
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	minimal := `
contracts: contracts.yaml
source:
  dsn: localhost:9000
  database: staging
destination:
  dsn: localhost:9000
  database: production
`

	config, err := LoadConfig(strings.NewReader(minimal))
	require.NoError(t, err)
	require.Equal(t, DefaultMaxAttempts, config.Migration.MaxAttempts)
	require.Equal(t, uint64(0), config.Migration.CountTolerance)
	require.Equal(t, contract.Duration(DefaultTableTimeout), config.Migration.TableTimeout)
	require.Equal(t, contract.Duration(DefaultSnapshotRetention), config.Migration.SnapshotRetention)
	require.Equal(t, DefaultSampleLimit, config.Validation.SampleLimit)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing contracts",
			yaml: `
source:
  dsn: localhost:9000
  database: staging
destination:
  dsn: localhost:9000
  database: production
`,
			want: "contract book",
		},
		{
			name: "missing source database",
			yaml: `
contracts: contracts.yaml
source:
  dsn: localhost:9000
destination:
  dsn: localhost:9000
  database: production
`,
			want: "source dsn and database",
		},
		{
			name: "missing destination",
			yaml: `
contracts: contracts.yaml
source:
  dsn: localhost:9000
  database: staging
`,
			want: "destination dsn and database",
		},
		{
			name: "source and destination identical",
			yaml: `
contracts: contracts.yaml
source:
  dsn: localhost:9000
  database: analytics
destination:
  dsn: localhost:9000
  database: analytics
`,
			want: "must be distinct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(strings.NewReader(tt.yaml))
			require.Error(t, err)
			require.Nil(t, config)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

// validateTestConfig validates that a config contains the expected test data
func validateTestConfig(t *testing.T, config *Config) {
	t.Helper()
	require.NotNil(t, config)
	require.Equal(t, "contracts.yaml", config.Contracts)
	require.Equal(t, "localhost:9000", config.Source.DSN)
	require.Equal(t, "staging", config.Source.Database)
	require.Equal(t, "production", config.Destination.Database)
	require.Equal(t, 3, config.Migration.MaxAttempts)
	require.Equal(t, uint64(5), config.Migration.CountTolerance)
	require.Equal(t, contract.Duration(15*time.Minute), config.Migration.TableTimeout)
	require.Equal(t, contract.Duration(48*time.Hour), config.Migration.SnapshotRetention)
	require.Equal(t, 2500, config.Validation.SampleLimit)
}
