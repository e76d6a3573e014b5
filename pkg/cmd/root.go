package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type (
	Params struct {
		fx.In

		Args       []string
		Commands   []*cli.Command `group:"commands"`
		Ctx        context.Context
		Lifecycle  fx.Lifecycle
		Shutdowner fx.Shutdowner
		Version    *Version
	}

	Version struct {
		Version   string
		Commit    string
		Timestamp string
	}
)

// Run creates and executes the main shuttle CLI application with the given
// version and command-line arguments. This function serves as the main
// entry point for all CLI operations.
//
// The application reads shuttle.yaml from the working directory when
// present; commands that need it gate on its presence via requireConfig.
// Exit codes from commands are propagated through the fx shutdowner, so a
// command returning cli.Exit with code 2 terminates the process with 2.
func Run(p Params) {
	cli.VersionPrinter = func(cmd *cli.Command) {
		fmt.Fprintln(cmd.Writer, "Version:", p.Version.Version)
		fmt.Fprintln(cmd.Writer, "Commit:", p.Version.Commit)
		fmt.Fprintln(cmd.Writer, "Date:", p.Version.Timestamp)
	}

	app := &cli.Command{
		Name:  "shuttle",
		Usage: "A tool for checkpointed table migrations with contract validation",
		Description: `shuttle moves contracted tables from a staging database into production,
validating each table against its contract before and after the write. Every
table's progress is checkpointed so an interrupted run resumes where it left
off, and every table is snapshotted before modification so failed migrations
can be rolled back.`,
		Version:  p.Version.Version,
		Commands: p.Commands,
	}

	p.Lifecycle.Append(fx.StartHook(func() {
		if err := app.Run(p.Ctx, p.Args); err != nil {
			code := 1
			var exitErr cli.ExitCoder
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			if msg := err.Error(); msg != "" {
				slog.Error("Error running command", "err", msg)
			}
			_ = p.Shutdowner.Shutdown(fx.ExitCode(code))
			return
		}

		_ = p.Shutdowner.Shutdown(fx.ExitCode(0))
	}))
}

func requireConfig(cfg *config.Config) func(context.Context, *cli.Command) (context.Context, error) {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if cfg == nil {
			return ctx, errors.New("shuttle.yaml not found")
		}

		return ctx, nil
	}
}
