// Package worker implements the Worker Loop: the per-process
// coordinator that joins a run, claims and processes documents, enqueues
// discovered links, heartbeats, and leaves cleanly on shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalgo-org/docingest/internal/backoff"
	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/dblog"
	"github.com/evalgo-org/docingest/internal/election"
	"github.com/evalgo-org/docingest/internal/lifecycle"
	"github.com/evalgo-org/docingest/internal/metrics"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/queue"
	"github.com/evalgo-org/docingest/internal/reaper"
	"github.com/evalgo-org/docingest/internal/registry"
	"github.com/evalgo-org/docingest/internal/store"
)

// workerLog returns a logger tagged with this process's worker_id and
// instance_id (see dblog.NewWorker), so log aggregation across a rolling
// restart can tell a new process apart from the one it replaced.
func workerLog(workerID string) *logrus.Entry {
	return dblog.NewWorker("worker", workerID)
}

// Config configures one worker process.
type Config struct {
	WorkerID     string
	Hostname     string
	ProcessID    int
	Version      string
	Capabilities map[string]bool

	ClaimTimeout  time.Duration
	WorkerTimeout time.Duration
	LeaseSeconds  int
	PollMinInterval time.Duration
	PollMaxInterval time.Duration

	// PipelineConcurrency lets a single process run N goroutines that
	// independently claim and process documents under one shared
	// worker_id registration. Defaults to 1.
	PipelineConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = reaper.DefaultClaimTimeout
	}
	if c.WorkerTimeout <= 0 {
		c.WorkerTimeout = reaper.DefaultWorkerTimeout
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = election.DefaultLeaseSeconds
	}
	if c.PollMinInterval <= 0 {
		c.PollMinInterval = 50 * time.Millisecond
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 5 * time.Second
	}
	if c.PipelineConcurrency <= 0 {
		c.PipelineConcurrency = 1
	}
	return c
}

// Sources maps a source name to the live ContentSource used to fetch bytes
// for claimed items from it.
type Sources map[string]pipeline.ContentSource

// Worker drives the coordination loop for one process. All exported
// components it builds (registry, queue, elector, lifecycle controller,
// reaper) share the single store.API handle passed to New, favoring
// explicit dependency injection over module-level singletons.
type Worker struct {
	cfg      Config
	store    store.API
	registry *registry.Registry
	queue    *queue.Queue
	reaper   *reaper.Reaper
	pipeline pipeline.DocumentPipeline
	sources  Sources
	detector pipeline.RelationshipDetector
	metrics  *metrics.Metrics
	log      *logrus.Entry

	runID    string
	elector  *election.Elector
	lifetime *lifecycle.Controller

	// heartbeatMu serializes heartbeats across PipelineConcurrency
	// goroutines sharing one worker_id registration.
	heartbeatMu sync.Mutex
}

// New builds a Worker wired against a single store.API handle.
func New(cfg Config, s store.API, docPipeline pipeline.DocumentPipeline, sources Sources,
	detector pipeline.RelationshipDetector, m *metrics.Metrics) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:      cfg,
		store:    s,
		registry: registry.New(s),
		queue:    queue.New(s),
		reaper:   reaper.New(s).WithTimeouts(cfg.ClaimTimeout, cfg.WorkerTimeout).WithMetrics(m),
		pipeline: docPipeline,
		sources:  sources,
		detector: detector,
		metrics:  m,
		log:      workerLog(cfg.WorkerID),
	}
}

// Run attaches to the run identified by attachOpts and executes the main
// loop until ctx is cancelled, returning once every claim goroutine has
// left cleanly.
func (w *Worker) Run(ctx context.Context, attachOpts registry.AttachOptions) error {
	role, err := w.registry.Attach(ctx, attachOpts)
	if err != nil {
		if errors.Is(err, cerrors.ErrRunTerminal) {
			w.log.WithError(err).Warn("run already terminal, exiting")
		}
		return err
	}
	w.runID = role.RunID

	w.elector = election.New(w.store, w.runID, w.cfg.WorkerID, w.cfg.LeaseSeconds)
	w.lifetime = lifecycle.New(w.store, w.queue, w.detector, w.runID, w.cfg.WorkerID)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.PipelineConcurrency; i++ {
		wg.Add(1)
		go func(claimant int) {
			defer wg.Done()
			w.claimLoop(ctx, claimant)
		}(i)
	}
	wg.Wait()

	return nil
}

// claimLoop runs the per-goroutine coordination cycle: heartbeat/election at
// L/3 cadence (claimant 0 only, so PipelineConcurrency goroutines don't
// race the same worker row), lifecycle+reaper ticks while leader, a run
// status check at the same cadence that exits once the run is terminal,
// then claim/process/complete-or-fail with growing backoff on an empty
// queue.
func (w *Worker) claimLoop(ctx context.Context, claimant int) {
	poll := backoff.New(w.cfg.PollMinInterval, w.cfg.PollMaxInterval)
	heartbeatInterval := time.Duration(w.cfg.LeaseSeconds) * time.Second / 3
	var lastHeartbeat time.Time

	for {
		select {
		case <-ctx.Done():
			if claimant == 0 {
				w.leave(context.Background())
			}
			return
		default:
		}

		if time.Since(lastHeartbeat) >= heartbeatInterval {
			lastHeartbeat = time.Now()
			if claimant == 0 {
				w.heartbeat(ctx)
				w.tryBecomeLeader(ctx)

				if w.elector.IsLeader() {
					if err := w.lifetime.Tick(ctx); err != nil {
						w.log.WithError(err).Error("lifecycle tick failed")
					}
					if err := w.reaper.Tick(ctx, w.runID); err != nil {
						w.log.WithError(err).Error("reaper tick failed")
					}
				}
			}

			if run, err := w.store.GetRun(ctx, w.runID); err == nil && run.Status.Terminal() {
				w.log.WithField("run_id", w.runID).WithField("status", run.Status).Info("run is terminal, exiting")
				if claimant == 0 {
					w.leave(context.Background())
				}
				return
			}
		}

		item, ok, err := w.queue.ClaimNext(ctx, w.runID, w.cfg.WorkerID, w.cfg.Capabilities)
		if err != nil {
			w.log.WithError(err).Error("claim_next failed")
			sleep(ctx, poll.Next())
			continue
		}
		if !ok {
			sleep(ctx, poll.Next())
			continue
		}
		poll.Reset()

		w.processItem(ctx, item)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	w.heartbeatMu.Lock()
	defer w.heartbeatMu.Unlock()
	if err := w.store.HeartbeatWorker(ctx, w.runID, w.cfg.WorkerID); err != nil {
		w.log.WithError(err).Error("heartbeat_worker failed")
	}
}

func (w *Worker) tryBecomeLeader(ctx context.Context) {
	if _, err := w.elector.Attempt(ctx); err != nil {
		w.log.WithError(err).Error("leader election attempt failed")
		return
	}
	if w.metrics != nil {
		val := 0.0
		if w.elector.IsLeader() {
			val = 1.0
		}
		w.metrics.LeaderIsCurrent.WithLabelValues(w.runID, w.cfg.WorkerID).Set(val)
	}
}

func (w *Worker) processItem(ctx context.Context, item model.QueueItem) {
	src, ok := w.sources[item.SourceName]
	if !ok {
		w.failPermanent(ctx, item, fmt.Errorf("no content source registered for %q", item.SourceName))
		return
	}

	content, err := src.Fetch(ctx, item.DocID)
	if err != nil {
		if errors.Is(err, cerrors.ErrPermanentSource) {
			w.failPermanent(ctx, item, err)
		} else {
			w.failTransient(ctx, item, fmt.Errorf("%w: %v", cerrors.ErrTransientSource, err))
		}
		return
	}

	result, err := w.pipeline.Process(ctx, item.DocID, content, pipeline.DocMeta{
		DocID: item.DocID, LastModified: content.LastModified, Size: content.Size,
	})
	if err != nil {
		if errors.Is(err, cerrors.ErrPermanentSource) {
			w.failPermanent(ctx, item, err)
		} else {
			w.failTransient(ctx, item, fmt.Errorf("%w: %v", cerrors.ErrPipeline, err))
		}
		return
	}
	if result.ContentHash == "" {
		result.ContentHash = content.ContentHash
	}

	if err := w.queue.Complete(ctx, item, result, w.cfg.WorkerID); err != nil {
		w.log.WithError(err).WithField("doc_id", item.DocID).Error("complete_item failed")
		return
	}
	if w.metrics != nil {
		w.metrics.DocumentsProcessed.Inc()
	}
}

func (w *Worker) failTransient(ctx context.Context, item model.QueueItem, cause error) {
	if err := w.queue.FailTransient(ctx, item, w.cfg.WorkerID, cause); err != nil {
		w.log.WithError(err).WithField("doc_id", item.DocID).Error("fail_item failed")
	}
	// Only a failure that exhausts max_retries is terminal; a retried item
	// is not counted as failed.
	if w.metrics != nil && item.RetryCount+1 > item.MaxRetries {
		w.metrics.DocumentsFailed.Inc()
	}
}

func (w *Worker) failPermanent(ctx context.Context, item model.QueueItem, cause error) {
	if err := w.queue.FailPermanent(ctx, item, w.cfg.WorkerID, cause); err != nil {
		w.log.WithError(err).WithField("doc_id", item.DocID).Error("fail_item failed")
	}
	if w.metrics != nil {
		w.metrics.DocumentsFailed.Inc()
	}
}

func (w *Worker) leave(ctx context.Context) {
	if err := w.store.LeaveWorker(ctx, w.runID, w.cfg.WorkerID); err != nil {
		w.log.WithError(err).WithField("worker_id", w.cfg.WorkerID).Error("leave_worker failed")
	}
	w.log.WithField("worker_id", w.cfg.WorkerID).WithField("run_id", w.runID).Info("worker leaving")
}
