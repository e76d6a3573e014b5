package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/shuttlehq/shuttle/pkg/engine"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type rollbackParams struct {
	fx.In

	Config   *config.Config
	LoadBook func() (*contract.Book, error)
}

// rollback creates the rollback command for restoring tables to their
// pre-migration snapshots.
//
// Without --tables, every FAILED or IN_PROGRESS table in the run is rolled
// back. Tables whose snapshots have passed the retention window are
// reported and skipped; everything else is restored atomically.
//
// Command flags:
//   - --run-id: The run whose snapshots to restore (required)
//   - --tables, -t: Restrict the rollback to matching contract names
//
// Example usage:
//
//	# Roll back every failed table in a run
//	shuttle rollback --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed
//
//	# Roll back one table only
//	shuttle rollback --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --tables orders
func rollback(p rollbackParams) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Restore tables to their pre-migration snapshots",
		Description: `Restore tables touched by a run to their pre-migration state.

Each restore is atomic: the live table is exchanged with the snapshot
clone in a single operation, so readers never observe a partially
restored table. A table that did not exist before the run is dropped.

Only FAILED or IN_PROGRESS tables can be rolled back. Snapshots are kept
for the configured retention window (24h by default); an expired snapshot
cannot be restored and the table is skipped with an error.`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "run-id",
				Usage:    "Run identifier whose snapshots to restore",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			tablesFlag,
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runRollback(ctx, cmd, p)
		},
	}
}

func runRollback(ctx context.Context, cmd *cli.Command, p rollbackParams) error {
	runID := cmd.String("run-id")

	book, err := p.LoadBook()
	if err != nil {
		return errors.Wrap(err, "failed to load contract book")
	}

	tables, err := book.Select(cmd.StringSlice("tables"))
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, p.Config, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	eng := engine.New(engine.Config{
		Book:        book,
		Checkpoints: rt.checkpoints,
		Snapshots:   rt.snapshots,
	})

	restored := 0
	failed := 0

	for _, tc := range tables {
		rec, err := rt.checkpoints.Get(ctx, runID, tc.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to read checkpoint for %s", tc.Name)
		}
		if rec.Status != checkpoint.StatusFailed && rec.Status != checkpoint.StatusInProgress {
			continue
		}

		if err := eng.Rollback(ctx, runID, tc.Name); err != nil {
			failed++
			fmt.Fprintf(os.Stdout, "❌ %s: %s\n", tc.Name, err)
			continue
		}

		restored++
		fmt.Fprintf(os.Stdout, "↩️  %s restored\n", tc.Name)
	}

	fmt.Fprintf(os.Stdout, "\nRolled back %d tables (%d failed)\n", restored, failed)

	if failed > 0 {
		return cli.Exit("", 1)
	}
	if restored == 0 {
		fmt.Fprintln(os.Stdout, "Nothing to roll back")
	}

	return nil
}
