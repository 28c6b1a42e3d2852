package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// Migrations manage the schema, so open without applying them.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrations := MigrationsFS()

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
		return printVersion(w, database, migrations)

	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
		return printVersion(w, database, migrations)

	case "status":
		return printStatus(w, database, migrations)

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: lapin migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateForce(migrations, version); err != nil {
			return err
		}
		fmt.Fprintf(w, "Migration version forced to %d\n", version)
		return nil

	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(w io.Writer, database *DB, migrations fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(w io.Writer, database *DB, migrations fs.FS) error {
	exists, err := database.schemaMigrationsExists()
	if err != nil {
		return fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest available: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	fmt.Fprintf(w, "Schema migrations table exists: %v\n", exists)

	switch {
	case dirty:
		fmt.Fprintln(w, "Database is in a dirty state. Inspect it, then run: lapin migrate force <version>")
	case version < latest:
		fmt.Fprintf(w, "Database is %d version(s) behind. Run: lapin migrate up\n", latest-version)
	default:
		fmt.Fprintln(w, "Database is up to date")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Database Migration Commands

Usage: lapin migrate [-db path] <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  force <N>       Force migration version to N (recovery only)
  help            Show this help message
`)
}
