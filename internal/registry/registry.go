// Package registry implements the Run Registry: attaching a worker to
// the run identified by its configuration fingerprint, and seeding the
// queue from configured sources on first join.
package registry

import (
	"context"
	"fmt"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/dblog"
	"github.com/evalgo-org/docingest/internal/fingerprint"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/store"
)

var log = dblog.New("registry")

// SourceFactory builds a pipeline.ContentSource from its configured
// parameters. A static table keyed on type strings stands in for dynamic
// plugin discovery, which this coordinator does not need.
type SourceFactory func(params map[string]string) (pipeline.ContentSource, error)

// AttachOptions configures one call to Attach.
type AttachOptions struct {
	Config     fingerprint.Input
	WorkerID   string
	Hostname   string
	ProcessID  int
	Version    string
	Capabilities map[string]bool

	// SourceFactories maps a configured source's Type to a constructor.
	// Required only when this worker may be the first to join the run
	// (seeding needs live ContentSource instances).
	SourceFactories map[string]SourceFactory
}

// Role reports whether this call was the first to create the run.
type Role struct {
	RunID       string
	JoinedFirst bool
}

// Registry wraps the coordination store's run/worker operations.
type Registry struct {
	store store.API
}

// New wraps store for use by the registry.
func New(s store.API) *Registry {
	return &Registry{store: s}
}

// Attach computes the fingerprint, attaches to (or creates) the run,
// registers the worker, and — on first join — seeds the queue from the
// configured sources.
func (r *Registry) Attach(ctx context.Context, opts AttachOptions) (Role, error) {
	fp, err := fingerprint.Compute(opts.Config)
	if err != nil {
		return Role{}, fmt.Errorf("registry: %w", err)
	}

	snapshot := snapshotFromInput(opts.Config)
	run, err := r.store.CreateOrAttachRun(ctx, fp.RunID, fp.ConfigHash, snapshot)
	if err != nil {
		return Role{}, fmt.Errorf("registry: attach run: %w", err)
	}

	if run.Status.Terminal() {
		return Role{}, fmt.Errorf("registry: run %s is %s: %w", run.RunID, run.Status, cerrors.ErrRunTerminal)
	}

	firstJoin, err := r.store.RegisterWorker(ctx, model.Worker{
		RunID:        run.RunID,
		WorkerID:     opts.WorkerID,
		Hostname:     opts.Hostname,
		ProcessID:    opts.ProcessID,
		Version:      opts.Version,
		Capabilities: opts.Capabilities,
	})
	if err != nil {
		return Role{}, fmt.Errorf("registry: register worker: %w", err)
	}

	if firstJoin {
		if err := r.seedQueue(ctx, run.RunID, opts); err != nil {
			return Role{}, fmt.Errorf("registry: seed queue: %w", err)
		}
	}

	return Role{RunID: run.RunID, JoinedFirst: firstJoin}, nil
}

func snapshotFromInput(in fingerprint.Input) model.ConfigSnapshot {
	sources := make([]model.SourceConfig, 0, len(in.Sources))
	for _, s := range in.Sources {
		sources = append(sources, model.SourceConfig{
			Name: s.Name, Type: s.Type, Parameters: s.Parameters,
			Priority: s.Priority, MaxLinkDepth: s.MaxLinkDepth,
		})
	}
	return model.ConfigSnapshot{
		Sources:               sources,
		EmbeddingProvider:     in.EmbeddingProvider,
		EmbeddingModel:        in.EmbeddingModel,
		EmbeddingDimensions:   in.EmbeddingDimensions,
		OntologyIDs:           in.OntologyIDs,
		OntologyVersions:      in.OntologyVersions,
		RelationshipDetection: in.RelationshipDetection,
		StorageTarget:         in.StorageTarget,
	}
}

// seedQueue enumerates every configured source exactly once and inserts one
// pending, depth-0, source_type=configured row per discovered doc_id.
// enqueue_document's ON CONFLICT DO NOTHING makes this idempotent against a
// concurrent first-joiner racing the same insert.
func (r *Registry) seedQueue(ctx context.Context, runID string, opts AttachOptions) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	for _, sc := range run.ConfigSnapshot.Sources {
		factory, ok := opts.SourceFactories[sc.Type]
		if !ok {
			return fmt.Errorf("registry: no source factory registered for type %q", sc.Type)
		}
		src, err := factory(sc.Parameters)
		if err != nil {
			return fmt.Errorf("registry: build source %q: %w", sc.Name, err)
		}

		metaCh, errCh := src.Enumerate(ctx)
		for meta := range metaCh {
			item := model.QueueItem{
				RunID:        runID,
				DocID:        meta.DocID,
				SourceName:   sc.Name,
				SourceType:   model.SourceConfigured,
				MaxRetries:   3,
				LinkDepth:    0,
				MaxLinkDepth: sc.MaxLinkDepth,
				Priority:     sc.Priority,
				LastModified: &meta.LastModified,
				FileSize:     meta.Size,
			}
			if err := r.store.EnqueueDocument(ctx, item); err != nil {
				return fmt.Errorf("registry: enqueue %s: %w", meta.DocID, err)
			}
		}
		if err := <-errCh; err != nil {
			return fmt.Errorf("registry: enumerate source %q: %w", sc.Name, err)
		}
		log.WithField("run_id", runID).WithField("source", sc.Name).Info("seeded queue from source")
	}
	return nil
}
