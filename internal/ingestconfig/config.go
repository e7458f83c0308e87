// Package ingestconfig loads worker configuration from flags and
// environment variables, following this codebase's viper/cobra binding
// convention (flag > env > default). No config file is read for these
// settings; the --config file holds only the run configuration.
package ingestconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/election"
	"github.com/evalgo-org/docingest/internal/reaper"
)

// Worker holds the resolved configuration for one `docingest worker start`
// invocation.
type Worker struct {
	DBURL               string
	WorkerID            string
	ClaimTimeout        time.Duration
	WorkerTimeout       time.Duration
	LeaderLeaseSeconds  int
	PollIntervalMinimum time.Duration
	MetricsAddr         string
	ConfigPath          string
	PipelineConcurrency int
}

// BindFlags registers the `worker start` flags and their viper bindings.
// Call once per cobra.Command before Load.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to the run configuration file (sources, embedding, ontology)")
	flags.String("worker-id", "", "worker identity; defaults to hostname:pid")
	flags.Int("claim-timeout-sec", 0, "seconds a processing claim may go unrenewed before reclaim")
	flags.Int("worker-timeout-sec", 0, "seconds without a heartbeat before a worker is marked failed")
	flags.Int("leader-lease-sec", 0, "leader lease duration in seconds")
	flags.Int("poll-interval-ms", 0, "minimum empty-claim poll interval in milliseconds")
	flags.String("metrics-addr", "", "address to serve /metrics on, empty disables")
	flags.Int("pipeline-concurrency", 0, "internal goroutines claiming documents per process")

	for _, name := range []string{
		"config", "worker-id", "claim-timeout-sec", "worker-timeout-sec",
		"leader-lease-sec", "poll-interval-ms", "metrics-addr", "pipeline-concurrency",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// Load resolves Worker from viper (flags and COORD_*/WORKER_ID env vars
// bound by the caller's cobra.OnInitialize hook) applying spec defaults for
// anything left unset. Returns cerrors.ErrConfigInvalid when COORD_DB_URL is
// missing, since no component can proceed without a coordination database.
func Load() (Worker, error) {
	dbURL := viper.GetString("db-url")
	if dbURL == "" {
		dbURL = os.Getenv("COORD_DB_URL")
	}
	if dbURL == "" {
		return Worker{}, fmt.Errorf("%w: COORD_DB_URL is required", cerrors.ErrConfigInvalid)
	}

	workerID := viper.GetString("worker-id")
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	cfg := Worker{
		DBURL:               dbURL,
		WorkerID:            workerID,
		ClaimTimeout:        durationOrDefault(viper.GetInt("claim-timeout-sec"), reaper.DefaultClaimTimeout),
		WorkerTimeout:       durationOrDefault(viper.GetInt("worker-timeout-sec"), reaper.DefaultWorkerTimeout),
		LeaderLeaseSeconds:  intOrDefault(viper.GetInt("leader-lease-sec"), election.DefaultLeaseSeconds),
		PollIntervalMinimum: msOrDefault(viper.GetInt("poll-interval-ms"), 50*time.Millisecond),
		MetricsAddr:         viper.GetString("metrics-addr"),
		ConfigPath:          viper.GetString("config"),
		PipelineConcurrency: intOrDefault(viper.GetInt("pipeline-concurrency"), 1),
	}
	return cfg, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func durationOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func intOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
