package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type resetParams struct {
	fx.In

	Config *config.Config
}

// reset creates the reset command for discarding a run's checkpoint state.
//
// Resetting is the only way to make the engine re-process tables a run has
// already completed; it is never implied by migrate. The run's snapshots
// are left in place until they expire.
//
// Example usage:
//
//	shuttle reset --run-id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --confirm
func reset(p resetParams) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Discard checkpoint state for a run",
		Description: `Discard every checkpoint record for the specified run.

After a reset, a migrate with the same --run-id starts from the first
contracted table and re-processes everything, including tables that had
already succeeded. The merge is idempotent, so re-processing is safe, but
it is never what a routine resume wants; this command exists for
deliberate do-overs only and therefore requires --confirm.`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "run-id",
				Usage:    "Run identifier to reset",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.BoolFlag{
				Name:  "confirm",
				Usage: "Acknowledge that completed tables will be re-processed",
				Value: false,
			},
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runReset(ctx, cmd, p)
		},
	}
}

func runReset(ctx context.Context, cmd *cli.Command, p resetParams) error {
	if !cmd.Bool("confirm") {
		return errors.New("reset discards run state; re-run with --confirm")
	}

	rt, err := openRuntime(ctx, p.Config, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	runID := cmd.String("run-id")
	if err := rt.checkpoints.Reset(ctx, runID); err != nil {
		return errors.Wrapf(err, "failed to reset run %s", runID)
	}

	fmt.Fprintf(os.Stdout, "Run %s reset\n", runID)
	return nil
}
