package main

import (
	"context"
	"os"

	"github.com/shuttlehq/shuttle/pkg/cmd"
	"github.com/shuttlehq/shuttle/pkg/config"
	"go.uber.org/fx"
)

// NB: These are set by GoReleaser during a build.
var (
	version string
	commit  string
	date    string
)

func main() {
	app := fx.New(
		fx.NopLogger,
		fx.Supply(
			fx.Annotate(context.Background(), fx.As(new(context.Context))),
			os.Args,
			&cmd.Version{
				Version:   version,
				Commit:    commit,
				Timestamp: date,
			},
		),
		config.Module,
		cmd.Module,
	)

	app.Run()
}
