// Package cmd provides CLI commands for the shuttle tool.
//
// This package implements the command-line interface for shuttle,
// providing commands for running checkpointed table migrations, validating
// tables against their contracts, and inspecting or repairing run state.
//
// # Available Commands
//
// The cmd package currently provides:
//   - migrate: Run a checkpointed migration over the contracted tables
//   - validate: Validate tables against their contracts without migrating
//   - status: Show per-table checkpoint status for a run
//   - rollback: Restore tables to their pre-migration snapshots
//   - reset: Clear checkpoint state for a run
//   - expire: Drop snapshots older than the retention window
//
// # Command Structure
//
// Each command is implemented as a separate function that returns a
// *cli.Command, following the urfave/cli/v3 pattern. Commands are
// designed to be composable and testable, with proper error handling
// and comprehensive help text.
//
// # Exit Codes
//
// Migration and validation commands report three outcomes:
//   - 0: every selected table succeeded
//   - 1: at least one table failed, or the run was halted or cancelled
//   - 2: all tables succeeded with warnings and --fail-on warn is set
//
// # Configuration
//
// Commands read shuttle.yaml from the working directory for the contract
// book path and the source/destination databases. Connection strings can
// be overridden per invocation with --source-dsn and --destination-dsn.
package cmd
