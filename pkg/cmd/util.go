package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/shuttlehq/shuttle/pkg/clickhouse"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/snapshot"
	"github.com/urfave/cli/v3"
)

var (
	runIDFlag = &cli.StringFlag{
		Name:  "run-id",
		Usage: "Run identifier; pass a previous run's id to resume it",
		Config: cli.StringConfig{
			TrimSpace: true,
		},
	}

	tablesFlag = &cli.StringSliceFlag{
		Name:    "tables",
		Aliases: []string{"t"},
		Usage:   "Restrict to matching contract names (exact or glob, repeatable)",
	}

	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "Emit a machine-readable JSON report instead of text",
	}

	failOnFlag = &cli.StringFlag{
		Name:  "fail-on",
		Usage: "Exit non-zero on 'warn' or only on 'error'",
		Value: "error",
		Config: cli.StringConfig{
			TrimSpace: true,
		},
	}

	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
	}

	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Print the migration plan without executing it",
	}

	countToleranceFlag = &cli.UintFlag{
		Name:  "count-tolerance",
		Usage: "Allowed source/destination row-count divergence (overrides config)",
	}

	sourceDSNFlag = &cli.StringFlag{
		Name:    "source-dsn",
		Usage:   "Override the source ClickHouse connection string",
		Sources: cli.EnvVars("SHUTTLE_SOURCE_DSN"),
		Config: cli.StringConfig{
			TrimSpace: true,
		},
	}

	destinationDSNFlag = &cli.StringFlag{
		Name:    "destination-dsn",
		Usage:   "Override the destination ClickHouse connection string",
		Sources: cli.EnvVars("SHUTTLE_DESTINATION_DSN"),
		Config: cli.StringConfig{
			TrimSpace: true,
		},
	}
)

// tlsFlags returns the mTLS flags shared by commands that dial ClickHouse.
func tlsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "cafile",
			Usage: "Certificate authority pem",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "certfile",
			Usage: "Certificate public key file",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "keyfile",
			Usage: "Certificate private key file",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	}
}

// runtime bundles the live collaborators a command needs: connections to
// both databases plus the checkpoint and snapshot stores, which live on
// the destination server.
type runtime struct {
	source      *clickhouse.Client
	destination *clickhouse.Client
	checkpoints *checkpoint.ClickHouseStore
	snapshots   *snapshot.Manager
}

// openRuntime dials both databases and bootstraps the engine-owned shuttle
// database on the destination server. Callers must Close the result.
func openRuntime(ctx context.Context, cfg *config.Config, cmd *cli.Command) (*runtime, error) {
	tls := clickhouse.TLSSettings{
		CAFile:   cmd.String("cafile"),
		CertFile: cmd.String("certfile"),
		KeyFile:  cmd.String("keyfile"),
	}

	sourceDSN := cfg.Source.DSN
	if dsn := cmd.String("source-dsn"); dsn != "" {
		sourceDSN = dsn
	}
	destinationDSN := cfg.Destination.DSN
	if dsn := cmd.String("destination-dsn"); dsn != "" {
		destinationDSN = dsn
	}

	source, err := clickhouse.NewClientWithOptions(ctx, sourceDSN, clickhouse.ClientOptions{TLSSettings: tls})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to source")
	}

	destination := source
	if destinationDSN != sourceDSN {
		destination, err = clickhouse.NewClientWithOptions(ctx, destinationDSN, clickhouse.ClientOptions{TLSSettings: tls})
		if err != nil {
			source.Close()
			return nil, errors.Wrap(err, "failed to connect to destination")
		}
	}

	checkpoints, err := checkpoint.NewClickHouseStore(ctx, destination)
	if err != nil {
		closeClients(source, destination)
		return nil, errors.Wrap(err, "failed to bootstrap checkpoint store")
	}

	snapshots, err := snapshot.NewManager(ctx, snapshot.Config{
		Store:     destination,
		Database:  cfg.Destination.Database,
		Retention: cfg.Migration.SnapshotRetention.Std(),
	})
	if err != nil {
		closeClients(source, destination)
		return nil, errors.Wrap(err, "failed to bootstrap snapshot manager")
	}

	return &runtime{
		source:      source,
		destination: destination,
		checkpoints: checkpoints,
		snapshots:   snapshots,
	}, nil
}

func (r *runtime) Close() {
	closeClients(r.source, r.destination)
}

func closeClients(source, destination *clickhouse.Client) {
	_ = source.Close()
	if destination != source {
		_ = destination.Close()
	}
}

// failOnWarn interprets the --fail-on flag.
func failOnWarn(cmd *cli.Command) (bool, error) {
	switch cmd.String("fail-on") {
	case "warn":
		return true, nil
	case "error":
		return false, nil
	default:
		return false, errors.Errorf("invalid --fail-on value %q (expected warn or error)", cmd.String("fail-on"))
	}
}
