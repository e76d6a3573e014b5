package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/shuttlehq/shuttle/pkg/validate"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type validateParams struct {
	fx.In

	Config   *config.Config
	LoadBook func() (*contract.Book, error)
}

// validateCmd creates the validate command for checking tables against
// their contracts without migrating anything.
//
// The validate command runs the same validation categories the migration
// executor runs (schema, constraints, freshness) against either the source
// or the destination database and reports the findings.
//
// Command flags:
//   - --target: Which database to validate, "source" or "destination"
//   - --tables, -t: Restrict to matching contract names
//   - --category: Run a single category instead of all three
//   - --fail-on: Treat warnings as failures ("warn") or not ("error")
//   - --json: Emit a JSON validation report
//
// Example usage:
//
//	# Validate every contracted table in staging
//	shuttle validate
//
//	# Validate production freshness only
//	shuttle validate --target destination --category freshness
//
//	# Machine-readable report for CI
//	shuttle validate --json --fail-on warn
func validateCmd(p validateParams) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate tables against their contracts",
		Description: `Validate contracted tables without migrating them.

Each selected table is checked against its contract:
- schema: required fields exist with the contracted types
- constraints: row-level rules hold (sampled unless a rule demands a full scan)
- freshness: timestamps are within the contract's staleness bounds

Findings are split into errors and warnings. Errors always fail the
command; warnings fail it only with --fail-on warn.`,
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "Database to validate: source or destination",
				Value: "source",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Run a single category: schema, constraints or freshness",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			tablesFlag,
			failOnFlag,
			jsonFlag,
			sourceDSNFlag,
			destinationDSNFlag,
		}, tlsFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runValidate(ctx, cmd, p)
		},
	}
}

func runValidate(ctx context.Context, cmd *cli.Command, p validateParams) error {
	warnFails, err := failOnWarn(cmd)
	if err != nil {
		return err
	}

	categories, err := selectedCategories(cmd.String("category"))
	if err != nil {
		return err
	}

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

	store, database := rt.source, p.Config.Source.Database
	switch cmd.String("target") {
	case "source":
	case "destination":
		store, database = rt.destination, p.Config.Destination.Database
	default:
		return errors.Errorf("invalid --target value %q (expected source or destination)", cmd.String("target"))
	}

	eng := validate.New(validate.Config{
		Store:       store,
		Database:    database,
		SampleLimit: uint64(p.Config.Validation.SampleLimit),
	})

	var results []*validate.Result
	for _, tc := range tables {
		results = append(results, eng.Validate(ctx, tc, categories...)...)
	}

	report := validate.NewReport(database, results)

	if cmd.Bool("json") {
		if err := report.WriteJSON(os.Stdout); err != nil {
			return errors.Wrap(err, "failed to write validation report")
		}
	} else if err := report.WriteText(os.Stdout); err != nil {
		return errors.Wrap(err, "failed to write validation report")
	}

	switch {
	case report.HasErrors():
		return cli.Exit("", 1)
	case warnFails && report.HasWarnings():
		return cli.Exit("", 2)
	}

	return nil
}

func selectedCategories(name string) ([]validate.Category, error) {
	if name == "" {
		return validate.AllCategories, nil
	}

	for _, c := range validate.AllCategories {
		if string(c) == name {
			return []validate.Category{c}, nil
		}
	}

	return nil, errors.Errorf("unknown category %q", name)
}
