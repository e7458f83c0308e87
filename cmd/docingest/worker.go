package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/evalgo-org/docingest/internal/fingerprint"
	"github.com/evalgo-org/docingest/internal/ingestconfig"
	"github.com/evalgo-org/docingest/internal/metrics"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/registry"
	"github.com/evalgo-org/docingest/internal/store"
	"github.com/evalgo-org/docingest/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run a coordination worker process",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "attach to the run identified by --config and process documents until told to stop",
	RunE:  runWorkerStart,
}

func init() {
	ingestconfig.BindFlags(workerStartCmd.Flags())
	workerCmd.AddCommand(workerStartCmd)
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	cfg, err := ingestconfig.Load()
	if err != nil {
		return err
	}
	runCfg, err := ingestconfig.LoadRunConfig(cfg.ConfigPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := applyMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New("docingest")
		go serveMetrics(cfg.MetricsAddr)
	}

	sources := buildSources(runCfg)
	sourceFactories := buildSourceFactories()

	w := worker.New(worker.Config{
		WorkerID:            cfg.WorkerID,
		ClaimTimeout:        cfg.ClaimTimeout,
		WorkerTimeout:       cfg.WorkerTimeout,
		LeaseSeconds:        cfg.LeaderLeaseSeconds,
		PollMinInterval:     cfg.PollIntervalMinimum,
		PipelineConcurrency: cfg.PipelineConcurrency,
	}, st, pipeline.NoopPipeline{}, sources, pipeline.NoopRelationshipDetector{}, m)

	attachOpts := registry.AttachOptions{
		Config:          runCfg,
		WorkerID:        cfg.WorkerID,
		ProcessID:       os.Getpid(),
		SourceFactories: sourceFactories,
	}
	if host, herr := os.Hostname(); herr == nil {
		attachOpts.Hostname = host
	}

	log.WithField("worker_id", cfg.WorkerID).Info("worker attaching")
	return w.Run(ctx, attachOpts)
}

// buildSources constructs the live ContentSource for every configured
// source, keyed by source name, so the worker loop can Fetch claimed items.
func buildSources(in fingerprint.Input) worker.Sources {
	sources := make(worker.Sources, len(in.Sources))
	for _, sc := range in.Sources {
		switch sc.Type {
		case "filesystem":
			sources[sc.Name] = pipeline.NewFileSystemContentSource(sc.Name, sc.Parameters["root"])
		case "http":
			sources[sc.Name] = pipeline.NewHTTPContentSource(sc.Name, sc.Parameters["seed_url"])
		}
	}
	return sources
}

// buildSourceFactories maps each recognized source type to a constructor
// used only by the first joiner, to seed the queue from Enumerate.
func buildSourceFactories() map[string]registry.SourceFactory {
	return map[string]registry.SourceFactory{
		"filesystem": func(params map[string]string) (pipeline.ContentSource, error) {
			root := params["root"]
			if root == "" {
				return nil, fmt.Errorf("filesystem source requires a \"root\" parameter")
			}
			return pipeline.NewFileSystemContentSource("filesystem", root), nil
		},
		"http": func(params map[string]string) (pipeline.ContentSource, error) {
			seed := params["seed_url"]
			if seed == "" {
				return nil, fmt.Errorf("http source requires a \"seed_url\" parameter")
			}
			return pipeline.NewHTTPContentSource("http", seed), nil
		},
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
