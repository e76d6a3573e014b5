package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"gopkg.in/yaml.v3"
)

type (
	// Endpoint describes one ClickHouse database the engine talks to.
	Endpoint struct {
		// DSN is the ClickHouse connection string (e.g. localhost:9000,
		// clickhouse://host:9000). Commands may override it with --source-dsn
		// or --destination-dsn.
		DSN string `yaml:"dsn"`

		// Database is the database name on that server.
		Database string `yaml:"database"`
	}

	// Migration contains the executor's policy knobs.
	Migration struct {
		// MaxAttempts caps attempts per table, including the first.
		// Defaults to DefaultMaxAttempts.
		MaxAttempts int `yaml:"max_attempts,omitempty"`

		// CountTolerance is the allowed source/destination row-count
		// divergence after a migration. Defaults to 0 (exact match).
		CountTolerance uint64 `yaml:"count_tolerance,omitempty"`

		// TableTimeout is the per-table time budget. Defaults to
		// DefaultTableTimeout.
		TableTimeout contract.Duration `yaml:"table_timeout,omitempty"`

		// SnapshotRetention is how long pre-migration snapshots remain
		// restorable. Defaults to DefaultSnapshotRetention.
		SnapshotRetention contract.Duration `yaml:"snapshot_retention,omitempty"`
	}

	// Validation contains validation engine settings.
	Validation struct {
		// SampleLimit bounds how many rows sampled constraint checks scan.
		// Defaults to DefaultSampleLimit. Full-cost rules ignore it.
		SampleLimit int `yaml:"sample_limit,omitempty"`
	}

	// Config represents the project configuration for shuttle.
	Config struct {
		// Contracts is the path to the table contract book (a YAML file).
		Contracts string `yaml:"contracts"`

		// Source is the staging database migrations read from.
		Source Endpoint `yaml:"source"`

		// Destination is the production database migrations write to.
		Destination Endpoint `yaml:"destination"`

		// Migration contains executor policy settings.
		Migration Migration `yaml:"migration,omitempty"`

		// Validation contains validation engine settings.
		Validation Validation `yaml:"validation,omitempty"`
	}
)

const (
	// DefaultMaxAttempts is the per-table attempt cap when unset.
	DefaultMaxAttempts = 4

	// DefaultTableTimeout is the per-table time budget when unset.
	DefaultTableTimeout = 10 * time.Minute

	// DefaultSnapshotRetention is the snapshot restore window when unset.
	DefaultSnapshotRetention = 24 * time.Hour

	// DefaultSampleLimit is the sampled constraint-check row bound when unset.
	DefaultSampleLimit = 10_000
)

// LoadConfig parses a shuttle configuration from the provided io.Reader.
//
// The function expects YAML-formatted configuration data naming the contract
// book and the source and destination databases. Missing policy knobs are
// filled with defaults; a config missing the contract book path or either
// database is rejected.
//
// Example:
//
//	yamlData := `
//	contracts: contracts.yaml
//	source:
//	  dsn: localhost:9000
//	  database: staging
//	destination:
//	  dsn: localhost:9000
//	  database: production
//	`
//
//	cfg, err := config.LoadConfig(strings.NewReader(yamlData))
//	if err != nil {
//		panic(err)
//	}
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal shuttle config")
	}

	if cfg.Migration.MaxAttempts <= 0 {
		cfg.Migration.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Migration.TableTimeout <= 0 {
		cfg.Migration.TableTimeout = contract.Duration(DefaultTableTimeout)
	}
	if cfg.Migration.SnapshotRetention <= 0 {
		cfg.Migration.SnapshotRetention = contract.Duration(DefaultSnapshotRetention)
	}
	if cfg.Validation.SampleLimit <= 0 {
		cfg.Validation.SampleLimit = DefaultSampleLimit
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfigFile loads a shuttle configuration from the specified file path.
// This is a convenience function that opens the file and calls LoadConfig.
//
// Example:
//
//	cfg, err := config.LoadConfigFile("shuttle.yaml")
//	if err != nil {
//		log.Fatal("Failed to load config:", err)
//	}
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

func (c *Config) validate() error {
	if c.Contracts == "" {
		return errors.New("config must name a contract book (contracts)")
	}
	if c.Source.DSN == "" || c.Source.Database == "" {
		return errors.New("config must name a source dsn and database")
	}
	if c.Destination.DSN == "" || c.Destination.Database == "" {
		return errors.New("config must name a destination dsn and database")
	}
	if c.Source.DSN == c.Destination.DSN && c.Source.Database == c.Destination.Database {
		return errors.New("source and destination must be distinct databases")
	}

	return nil
}
