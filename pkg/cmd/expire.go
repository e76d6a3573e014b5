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

type expireParams struct {
	fx.In

	Config *config.Config
}

// expire creates the expire command for dropping snapshots past the
// retention window.
//
// Snapshot clones hold a full copy of each table they protect, so expired
// snapshots are worth sweeping on a schedule. The command drops every
// clone older than the configured retention (or --older-than) and removes
// its metadata; the protected tables are untouched.
//
// Example usage:
//
//	# Sweep with the configured retention window
//	shuttle expire
//
//	# Sweep more aggressively
//	shuttle expire --older-than 6h
func expire(p expireParams) *cli.Command {
	return &cli.Command{
		Name:  "expire",
		Usage: "Drop snapshots older than the retention window",
		Description: `Drop snapshot clones whose retention window has passed.

Expired snapshots can no longer be restored, so keeping their clones only
costs storage. This command is safe to run at any time, including while a
migration is in flight: only snapshots past the cutoff are touched.`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Override the retention window for this sweep",
			},
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runExpire(ctx, cmd, p)
		},
	}
}

func runExpire(ctx context.Context, cmd *cli.Command, p expireParams) error {
	rt, err := openRuntime(ctx, p.Config, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	age := cmd.Duration("older-than")
	if age <= 0 {
		age = p.Config.Migration.SnapshotRetention.Std()
	}

	dropped, err := rt.snapshots.ExpireOlderThan(ctx, age)
	if err != nil {
		return errors.Wrap(err, "failed to expire snapshots")
	}

	fmt.Fprintf(os.Stdout, "Dropped %d expired snapshots\n", dropped)
	return nil
}
