package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type statusParams struct {
	fx.In

	Config   *config.Config
	LoadBook func() (*contract.Book, error)
}

// status creates the status command for showing a run's checkpoint state.
//
// The status command displays per-table progress for a migration run,
// including which tables have succeeded, which failed (and why), and where
// a resumed run would pick up.
//
// Command flags:
//   - --run-id: The run to inspect (required)
//   - --verbose: Show per-table attempt counts, row counts and last errors
//
// Example usage:
//
//	# Show run progress
//	shuttle status --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed
//
//	# Show failure details
//	shuttle status --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --verbose
func status(p statusParams) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show checkpoint status for a run",
		Description: `Display the checkpoint state for the specified migration run.

The status command shows:
- Each contracted table's status (UNSTARTED, IN_PROGRESS, SUCCEEDED, FAILED, ROLLED_BACK)
- The table a resumed run would continue from
- Attempt counts, row counts and last-error details (with --verbose)

This command is useful for:
- Checking whether an interrupted run is safe to resume
- Debugging failed tables before retrying or rolling back
- Auditing what a completed run actually did`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "run-id",
				Usage:    "Run identifier to inspect",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Show detailed per-table information",
				Value: false,
			},
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runStatus(ctx, cmd, p)
		},
	}
}

func runStatus(ctx context.Context, cmd *cli.Command, p statusParams) error {
	runID := cmd.String("run-id")
	verbose := cmd.Bool("verbose")

	book, err := p.LoadBook()
	if err != nil {
		return errors.Wrap(err, "failed to load contract book")
	}

	rt, err := openRuntime(ctx, p.Config, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.checkpoints.List(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "failed to load checkpoints")
	}

	byTable := make(map[string]*checkpoint.Record, len(records))
	for _, rec := range records {
		byTable[rec.Table] = rec
	}

	tables := book.Tables()
	names := make([]string, len(tables))
	for i, tc := range tables {
		names[i] = tc.Name
	}

	resume, err := rt.checkpoints.ResumePoint(ctx, runID, names)
	if err != nil {
		return errors.Wrap(err, "failed to compute resume point")
	}

	fmt.Fprintf(os.Stdout, "Run: %s\n", runID)
	fmt.Fprintf(os.Stdout, "Tables: %d contracted\n\n", len(tables))

	counts := map[checkpoint.Status]int{}
	for _, name := range names {
		rec, ok := byTable[name]
		if !ok {
			counts[checkpoint.StatusUnstarted]++
			fmt.Fprintf(os.Stdout, "  %s %s\n", statusGlyph(checkpoint.StatusUnstarted), name)
			continue
		}

		counts[rec.Status]++
		fmt.Fprintf(os.Stdout, "  %s %s (%s)\n", statusGlyph(rec.Status), name, rec.Status)

		if verbose {
			fmt.Fprintf(os.Stdout, "     Attempts: %d\n", rec.Attempts)
			if rec.Status == checkpoint.StatusSucceeded {
				fmt.Fprintf(os.Stdout, "     Rows: %d source / %d destination\n", rec.SourceCount, rec.DestinationCount)
			}
			if rec.LastError != nil {
				fmt.Fprintf(os.Stdout, "     Last error [%s]: %s\n", rec.LastError.Category, rec.LastError.Message)
			}
		}
	}

	fmt.Fprintln(os.Stdout)
	fmt.Fprintf(os.Stdout, "✅ Succeeded: %d\n", counts[checkpoint.StatusSucceeded])
	fmt.Fprintf(os.Stdout, "⏳ Pending: %d\n", counts[checkpoint.StatusUnstarted]+counts[checkpoint.StatusInProgress])
	fmt.Fprintf(os.Stdout, "❌ Failed: %d\n", counts[checkpoint.StatusFailed])
	if n := counts[checkpoint.StatusRolledBack]; n > 0 {
		fmt.Fprintf(os.Stdout, "↩️  Rolled back: %d\n", n)
	}

	if resume < len(names) {
		fmt.Fprintf(os.Stdout, "\n💡 A resumed run continues from %s\n", names[resume])
	} else {
		fmt.Fprintln(os.Stdout, "\n✅ All tables are done")
	}

	return nil
}

func statusGlyph(s checkpoint.Status) string {
	switch s {
	case checkpoint.StatusSucceeded:
		return "✅"
	case checkpoint.StatusFailed:
		return "❌"
	case checkpoint.StatusInProgress:
		return "🚧"
	case checkpoint.StatusRolledBack:
		return "↩️"
	default:
		return "⏳"
	}
}
