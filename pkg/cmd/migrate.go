package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/shuttlehq/shuttle/pkg/engine"
	"github.com/shuttlehq/shuttle/pkg/validate"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type migrateParams struct {
	fx.In

	Config   *config.Config
	LoadBook func() (*contract.Book, error)
}

// migrate creates the migrate command for running checkpointed table
// migrations.
//
// The migrate command moves every contracted table from the source database
// into the destination database, in contract order, validating each table
// before and after the write. Progress is checkpointed per table so a
// subsequent invocation with the same --run-id resumes after the last
// successful table.
//
// Command flags:
//   - --run-id: Resume a prior run instead of starting fresh
//   - --tables, -t: Restrict the run to matching contract names
//   - --fail-on: Treat warnings as failures ("warn") or not ("error")
//   - --json: Emit a JSON run report
//   - --dry-run: Print the plan (table order, resume point) and exit
//   - --count-tolerance: Override the configured row-count tolerance
//
// Example usage:
//
//	# Migrate all contracted tables
//	shuttle migrate
//
//	# Resume an interrupted run
//	shuttle migrate --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed
//
//	# Migrate only event tables, failing the run on any warning
//	shuttle migrate --tables 'events_*' --fail-on warn
func migrate(p migrateParams) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"run"},
		Usage:   "Migrate contracted tables from source to destination",
		Description: `Run a checkpointed migration over the contracted tables.

Each table goes through the same sequence: snapshot the destination table,
validate the source against the table's contract, apply an idempotent
upsert merge keyed by the contract's unique key, validate the destination,
and corroborate row counts. A table that fails validation or exhausts its
retries is isolated; later tables still run.

The command automatically handles:
- Bootstrap of the shuttle.checkpoints and shuttle.snapshots tables on first run
- Detection of already-migrated tables to avoid duplicate execution
- Automatic resume of interrupted runs from their last checkpoint
- Retry with category-aware backoff for transient failures
- Pre-write snapshots so any table can be rolled back

Exit codes: 0 when every table succeeds, 1 on failure or interruption, 2
when all tables succeed with warnings and --fail-on warn is set.`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			runIDFlag,
			tablesFlag,
			failOnFlag,
			jsonFlag,
			dryRunFlag,
			countToleranceFlag,
			verboseFlag,
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runMigrate(ctx, cmd, p)
		},
	}
}

func runMigrate(ctx context.Context, cmd *cli.Command, p migrateParams) error {
	warnFails, err := failOnWarn(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("verbose") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	book, err := p.LoadBook()
	if err != nil {
		return errors.Wrap(err, "failed to load contract book")
	}

	rt, err := openRuntime(ctx, p.Config, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cmd.Bool("dry-run") {
		return printPlan(ctx, cmd, book, rt)
	}

	// The merge is a server-side INSERT SELECT between databases, so both
	// must live on the same server.
	if rt.source != rt.destination {
		return errors.New("source and destination must be databases on the same ClickHouse server")
	}

	slog.Info("Connected to ClickHouse successfully",
		"source", p.Config.Source.Database,
		"destination", p.Config.Destination.Database,
	)

	eng := engine.New(engine.Config{
		Book:        book,
		Checkpoints: rt.checkpoints,
		Snapshots:   rt.snapshots,
		SourceValidator: validate.New(validate.Config{
			Store:       rt.source,
			Database:    p.Config.Source.Database,
			SampleLimit: uint64(p.Config.Validation.SampleLimit),
		}),
		DestinationValidator: validate.New(validate.Config{
			Store:       rt.destination,
			Database:    p.Config.Destination.Database,
			SampleLimit: uint64(p.Config.Validation.SampleLimit),
		}),
		Store:          rt.destination,
		SourceDB:       p.Config.Source.Database,
		DestinationDB:  p.Config.Destination.Database,
		MaxAttempts:    p.Config.Migration.MaxAttempts,
		CountTolerance: countTolerance(cmd, p.Config),
		TableTimeout:   p.Config.Migration.TableTimeout.Std(),
	})

	summary, err := eng.Run(ctx, engine.RunOptions{
		RunID:  cmd.String("run-id"),
		Tables: cmd.StringSlice("tables"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to execute run")
	}

	if cmd.Bool("json") {
		if err := summary.WriteJSON(os.Stdout); err != nil {
			return errors.Wrap(err, "failed to write run report")
		}
	} else if err := summary.WriteText(os.Stdout); err != nil {
		return errors.Wrap(err, "failed to write run report")
	}

	if code := summary.ExitCode(warnFails); code != 0 {
		return cli.Exit("", code)
	}

	return nil
}

// printPlan writes what a run with the given flags would do, without
// touching any table.
func printPlan(ctx context.Context, cmd *cli.Command, book *contract.Book, rt *runtime) error {
	tables, err := book.Select(cmd.StringSlice("tables"))
	if err != nil {
		return err
	}

	runID := cmd.String("run-id")
	if runID == "" {
		fmt.Fprintf(os.Stdout, "Plan: new run over %d tables\n\n", len(tables))
		for i, tc := range tables {
			fmt.Fprintf(os.Stdout, "  %d. %s\n", i+1, tc.Name)
		}
		return nil
	}

	names := make([]string, len(tables))
	for i, tc := range tables {
		names[i] = tc.Name
	}

	resume, err := rt.checkpoints.ResumePoint(ctx, runID, names)
	if err != nil {
		return errors.Wrap(err, "failed to compute resume point")
	}

	fmt.Fprintf(os.Stdout, "Plan: resume run %s (%d of %d tables already done)\n\n", runID, resume, len(tables))
	for i, name := range names {
		mark := "run"
		if i < resume {
			mark = "skip"
		}
		fmt.Fprintf(os.Stdout, "  %d. %s (%s)\n", i+1, name, mark)
	}
	return nil
}

// countTolerance resolves the effective tolerance: flag wins over config.
func countTolerance(cmd *cli.Command, cfg *config.Config) uint64 {
	if cmd.IsSet("count-tolerance") {
		return uint64(cmd.Uint("count-tolerance"))
	}
	return cfg.Migration.CountTolerance
}
