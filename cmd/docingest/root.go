package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/dblog"
)

var log = dblog.New("cli")

// Exit codes: 0 clean, 2 configuration error, 3 a coordination-store
// operation failed (an error wrapping cerrors.ErrTransientStore; the
// operation is not retried before exiting), 4 run observed terminal on
// join. Failing to open or ping the database, or to apply migrations, is
// not wrapped that way and exits 1.
const (
	exitOK             = 0
	exitConfigInvalid  = 2
	exitStoreUnreachable = 3
	exitRunTerminal    = 4
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "distributed document-ingestion coordinator",
	Long: `docingest coordinates many worker processes over a shared PostgreSQL
database so a configured, link-crawled document set is ingested exactly
once per configuration, tolerating worker crashes, followed by a single
post-processing phase.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "env-file", "", "path to a .env-style file; the file is not read, settings come from flags and the process environment")
	rootCmd.AddCommand(workerCmd, runCmd, migrateCmd)
}

// initEnv enables automatic COORD_*/WORKER_* environment binding, mirroring
// this codebase's viper.AutomaticEnv pattern without requiring a config
// file to exist.
func initEnv() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")
	_ = viper.BindEnv("db-url", "COORD_DB_URL")
	_ = viper.BindEnv("worker-id", "WORKER_ID")
	_ = viper.BindEnv("claim-timeout-sec", "CLAIM_TIMEOUT_SEC")
	_ = viper.BindEnv("worker-timeout-sec", "WORKER_TIMEOUT_SEC")
	_ = viper.BindEnv("leader-lease-sec", "LEADER_LEASE_SEC")
	_ = viper.BindEnv("poll-interval-ms", "POLL_INTERVAL_MS")
}

// dbURLFromEnv resolves COORD_DB_URL for commands that only need a store
// handle (run status, run cancel, migrate) without the rest of Worker.
func dbURLFromEnv() (string, error) {
	if v := viper.GetString("db-url"); v != "" {
		return v, nil
	}
	if v := os.Getenv("COORD_DB_URL"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: COORD_DB_URL is required", cerrors.ErrConfigInvalid)
}

// Execute runs the command tree and maps the error it returns to the exit
// code contract above.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	log.WithError(err).Error("command failed")
	fmt.Fprintln(os.Stderr, err)
	return exitCodeFor(err)
}

// exitCodeFor maps a returned command error to the exit code contract
// above; separated from Execute so it is testable without driving
// cobra's os.Args-based dispatch.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, cerrors.ErrConfigInvalid):
		return exitConfigInvalid
	case errors.Is(err, cerrors.ErrTransientStore):
		return exitStoreUnreachable
	case errors.Is(err, cerrors.ErrRunTerminal):
		return exitRunTerminal
	default:
		return 1
	}
}
