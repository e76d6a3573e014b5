package cmd

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/checkpoint"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"github.com/shuttlehq/shuttle/pkg/validate"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func testConfig() *config.Config {
	return &config.Config{
		Contracts:   "contracts.yaml",
		Source:      config.Endpoint{DSN: "localhost:9000", Database: "staging"},
		Destination: config.Endpoint{DSN: "localhost:9000", Database: "production"},
	}
}

func noBook() (*contract.Book, error) {
	return nil, errors.New("book unavailable in test")
}

func flagNames(flags []cli.Flag) []string {
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = f.Names()[0]
	}
	return names
}

func TestMigrateCommand_Structure(t *testing.T) {
	command := migrate(migrateParams{Config: testConfig(), LoadBook: noBook})

	require.Equal(t, "migrate", command.Name)
	require.Equal(t, []string{"run"}, command.Aliases)

	names := flagNames(command.Flags)
	for _, want := range []string{"run-id", "tables", "fail-on", "json", "dry-run", "count-tolerance", "verbose", "source-dsn", "destination-dsn", "cafile", "certfile", "keyfile"} {
		require.Contains(t, names, want)
	}
}

func TestMigrateCommand_RequiresConfig(t *testing.T) {
	command := migrate(migrateParams{Config: nil, LoadBook: noBook})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "shuttle.yaml not found")
}

func TestMigrateCommand_InvalidFailOn(t *testing.T) {
	command := migrate(migrateParams{Config: testConfig(), LoadBook: noBook})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test", "--fail-on", "never"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `invalid --fail-on value "never"`)
}

func TestMigrateCommand_BookErrorSurfaces(t *testing.T) {
	command := migrate(migrateParams{Config: testConfig(), LoadBook: noBook})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load contract book")
}

func TestValidateCommand_Structure(t *testing.T) {
	command := validateCmd(validateParams{Config: testConfig(), LoadBook: noBook})

	require.Equal(t, "validate", command.Name)

	names := flagNames(command.Flags)
	for _, want := range []string{"target", "category", "tables", "fail-on", "json"} {
		require.Contains(t, names, want)
	}
}

func TestValidateCommand_UnknownCategory(t *testing.T) {
	command := validateCmd(validateParams{Config: testConfig(), LoadBook: noBook})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test", "--category", "vibes"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown category "vibes"`)
}

func TestStatusCommand_RequiresRunID(t *testing.T) {
	command := status(statusParams{Config: testConfig(), LoadBook: noBook})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `"run-id"`)
}

func TestRollbackCommand_Structure(t *testing.T) {
	command := rollback(rollbackParams{Config: testConfig(), LoadBook: noBook})

	require.Equal(t, "rollback", command.Name)
	require.Contains(t, flagNames(command.Flags), "run-id")
	require.Contains(t, flagNames(command.Flags), "tables")
}

func TestResetCommand_RequiresConfirm(t *testing.T) {
	command := reset(resetParams{Config: testConfig()})

	app := &cli.Command{
		Name:   "test",
		Flags:  command.Flags,
		Action: command.Action,
		Before: command.Before,
	}

	err := app.Run(context.Background(), []string{"test", "--run-id", "run-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "re-run with --confirm")
}

func TestExpireCommand_Structure(t *testing.T) {
	command := expire(expireParams{Config: testConfig()})

	require.Equal(t, "expire", command.Name)
	require.Contains(t, flagNames(command.Flags), "older-than")
}

func TestFailOnWarn(t *testing.T) {
	run := func(t *testing.T, args []string) (bool, error) {
		t.Helper()

		var (
			warnFails bool
			err       error
		)
		app := &cli.Command{
			Name:  "test",
			Flags: []cli.Flag{failOnFlag},
			Action: func(_ context.Context, cmd *cli.Command) error {
				warnFails, err = failOnWarn(cmd)
				return nil
			},
		}
		require.NoError(t, app.Run(context.Background(), append([]string{"test"}, args...)))
		return warnFails, err
	}

	warnFails, err := run(t, nil)
	require.NoError(t, err)
	require.False(t, warnFails)

	warnFails, err = run(t, []string{"--fail-on", "warn"})
	require.NoError(t, err)
	require.True(t, warnFails)

	_, err = run(t, []string{"--fail-on", "sometimes"})
	require.Error(t, err)
}

func TestSelectedCategories(t *testing.T) {
	cats, err := selectedCategories("")
	require.NoError(t, err)
	require.Equal(t, validate.AllCategories, cats)

	cats, err = selectedCategories("freshness")
	require.NoError(t, err)
	require.Equal(t, []validate.Category{validate.CategoryFreshness}, cats)

	_, err = selectedCategories("nope")
	require.Error(t, err)
}

func TestCountTolerance(t *testing.T) {
	cfg := testConfig()
	cfg.Migration.CountTolerance = 7

	run := func(t *testing.T, args []string) uint64 {
		t.Helper()

		var got uint64
		app := &cli.Command{
			Name:  "test",
			Flags: []cli.Flag{countToleranceFlag},
			Action: func(_ context.Context, cmd *cli.Command) error {
				got = countTolerance(cmd, cfg)
				return nil
			},
		}
		require.NoError(t, app.Run(context.Background(), append([]string{"test"}, args...)))
		return got
	}

	require.Equal(t, uint64(7), run(t, nil))
	require.Equal(t, uint64(0), run(t, []string{"--count-tolerance", "0"}))
	require.Equal(t, uint64(25), run(t, []string{"--count-tolerance", "25"}))
}

func TestStatusGlyph(t *testing.T) {
	require.Equal(t, "✅", statusGlyph(checkpoint.StatusSucceeded))
	require.Equal(t, "❌", statusGlyph(checkpoint.StatusFailed))
	require.Equal(t, "🚧", statusGlyph(checkpoint.StatusInProgress))
	require.Equal(t, "↩️", statusGlyph(checkpoint.StatusRolledBack))
	require.Equal(t, "⏳", statusGlyph(checkpoint.StatusUnstarted))
}
