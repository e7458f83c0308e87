package main

import (
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply or roll back the coordination schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGoose(func(db *sql.DB) error { return goose.Up(db, "migrations") })
	},
}

// applyMigrations brings dbURL's schema up to date against migrationsFS,
// using a separate database/sql connection from the caller's pgxpool since
// goose only speaks database/sql. worker start calls this before serving so
// a freshly provisioned database doesn't need an operator to run
// `docingest migrate up` first.
func applyMigrations(dbURL string) error {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGoose(func(db *sql.DB) error { return goose.Down(db, "migrations") })
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the currently applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGoose(func(db *sql.DB) error {
			version, err := currentSchemaVersion(db)
			if err != nil {
				return err
			}
			cmd.Printf("schema version: %d\n", version)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

// currentSchemaVersion reads the most recently applied migration id from
// goose's tracking table directly, rather than through goose's API, so this
// read path is a plain database/sql query mockable with go-sqlmock.
func currentSchemaVersion(db *sql.DB) (int64, error) {
	var version int64
	err := db.QueryRow(`SELECT version_id FROM goose_db_version ORDER BY id DESC LIMIT 1`).Scan(&version)
	return version, err
}

// withGoose opens a database/sql connection (goose and its migration
// tracking table require database/sql, unlike the coordination store's
// direct pgxpool usage) and runs fn against it.
func withGoose(fn func(*sql.DB) error) error {
	dbURL, err := dbURLFromEnv()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn(db)
}
