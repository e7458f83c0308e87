// Package lifecycle implements the Lifecycle Controller: the run state
// machine, two-observation terminal detection, and post-processing
// orchestration. Only the current leader calls Tick.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo-org/docingest/internal/dblog"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/queue"
	"github.com/evalgo-org/docingest/internal/store"
)

var log = dblog.New("lifecycle")

// Default timing for terminal detection and run abandonment.
const (
	// DefaultStableWindow is Q: seconds between the two consecutive
	// drained observations required before active → processing_complete.
	DefaultStableWindow = 10 * time.Second
	// DefaultAbandonAfter is A: a run with no activity this long, and no
	// worker heartbeat within A/12, is abandoned.
	DefaultAbandonAfter = 24 * time.Hour
)

// Controller drives one run's state machine forward on each Tick.
type Controller struct {
	store        store.API
	queue        *queue.Queue
	detector     pipeline.RelationshipDetector
	runID        string
	workerID     string
	stableWindow time.Duration
	abandonAfter time.Duration

	// firstDrainedObservation tracks the first of the two consecutive
	// drained observations required before transitioning; zero means "none
	// pending".
	firstDrainedObservation time.Time
}

// New returns a Controller for runID, acting as workerID. workerID appears
// only in log lines; the post_processing transition stores no worker id.
func New(s store.API, q *queue.Queue, detector pipeline.RelationshipDetector, runID, workerID string) *Controller {
	return &Controller{
		store: s, queue: q, detector: detector, runID: runID, workerID: workerID,
		stableWindow: DefaultStableWindow, abandonAfter: DefaultAbandonAfter,
	}
}

// WithTimings overrides the stable-window and abandonment defaults.
func (c *Controller) WithTimings(stableWindow, abandonAfter time.Duration) *Controller {
	c.stableWindow = stableWindow
	c.abandonAfter = abandonAfter
	return c
}

// Tick runs one lifecycle check. It is safe to call at most every few
// seconds; calling more often just wastes a summarize_queue read.
func (c *Controller) Tick(ctx context.Context) error {
	run, err := c.store.GetRun(ctx, c.runID)
	if err != nil {
		return fmt.Errorf("lifecycle: get run: %w", err)
	}
	if run.Status.Terminal() {
		return nil
	}

	if abandoned, err := c.checkAbandonment(ctx, run); err != nil || abandoned {
		return err
	}

	switch run.Status {
	case model.RunActive:
		return c.tickActive(ctx, run)
	case model.RunProcessingComplete:
		return c.tickProcessingComplete(ctx, run)
	case model.RunPostProcessing:
		return c.tickPostProcessing(ctx, run)
	}
	return nil
}

func (c *Controller) tickActive(ctx context.Context, run model.Run) error {
	summary, err := c.queue.Summarize(ctx, c.runID)
	if err != nil {
		return fmt.Errorf("lifecycle: summarize queue: %w", err)
	}

	if !summary.Drained() {
		c.firstDrainedObservation = time.Time{}
		return nil
	}

	now := time.Now()
	if c.firstDrainedObservation.IsZero() {
		c.firstDrainedObservation = now
		return nil
	}
	if now.Sub(c.firstDrainedObservation) < c.stableWindow {
		return nil
	}

	ok, err := c.store.TransitionRun(ctx, c.runID, model.RunActive, model.RunProcessingComplete, "")
	if err != nil {
		return fmt.Errorf("lifecycle: transition to processing_complete: %w", err)
	}
	if ok {
		log.WithField("run_id", c.runID).Info("queue drained twice, run is processing_complete")
		c.firstDrainedObservation = time.Time{}
	}
	return nil
}

// tickProcessingComplete re-checks drainage (a linked item discovered at
// the boundary can reopen the run) before acquiring the post-processing
// lock via the same CAS that moves status.
func (c *Controller) tickProcessingComplete(ctx context.Context, run model.Run) error {
	summary, err := c.queue.Summarize(ctx, c.runID)
	if err != nil {
		return fmt.Errorf("lifecycle: summarize queue: %w", err)
	}
	if !summary.Drained() {
		_, err := c.store.TransitionRun(ctx, c.runID, model.RunProcessingComplete, model.RunActive, "")
		return err
	}

	ok, err := c.store.TransitionRun(ctx, c.runID, model.RunProcessingComplete, model.RunPostProcessing,
		", post_processing_started_at = NOW()")
	if err != nil {
		return fmt.Errorf("lifecycle: transition to post_processing: %w", err)
	}
	if ok {
		log.WithField("run_id", c.runID).WithField("worker_id", c.workerID).Info("acquired post-processing lock")
	}
	return nil
}

// tickPostProcessing invokes the RelationshipDetector. A leader that dies
// mid-phase leaves the run in post_processing; a successor's Tick calls
// this again, which is safe because the detector contract requires
// idempotence.
func (c *Controller) tickPostProcessing(ctx context.Context, run model.Run) error {
	summary, err := c.detector.Detect(ctx, c.runID)
	if err != nil {
		msg := err.Error()
		if _, tErr := c.store.TransitionRun(ctx, c.runID, model.RunPostProcessing, model.RunFailed,
			", post_processing_error = $4", msg); tErr != nil {
			return fmt.Errorf("lifecycle: transition to failed: %w", tErr)
		}
		return fmt.Errorf("lifecycle: post-processing: %w", err)
	}

	ok, err := c.store.TransitionRun(ctx, c.runID, model.RunPostProcessing, model.RunCompleted,
		", post_processing_completed_at = NOW(), completed_at = NOW()")
	if err != nil {
		return fmt.Errorf("lifecycle: transition to completed: %w", err)
	}
	if ok {
		log.WithField("run_id", c.runID).WithField("relationships_written", summary.RelationshipsWritten).Info("run completed")
	}
	return nil
}

// checkAbandonment transitions run to abandoned if last_activity_at is
// older than abandonAfter and no worker has heartbeated within
// abandonAfter/12.
func (c *Controller) checkAbandonment(ctx context.Context, run model.Run) (bool, error) {
	if time.Since(run.LastActivityAt) < c.abandonAfter {
		return false, nil
	}

	lastHeartbeat, err := c.store.MostRecentWorkerHeartbeat(ctx, c.runID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: most recent worker heartbeat: %w", err)
	}
	if !lastHeartbeat.IsZero() && time.Since(lastHeartbeat) < c.abandonAfter/12 {
		return false, nil
	}

	ok, err := c.store.TransitionRun(ctx, c.runID, run.Status, model.RunAbandoned, "")
	if err != nil {
		return false, fmt.Errorf("lifecycle: transition to abandoned: %w", err)
	}
	if ok {
		log.WithField("run_id", c.runID).Warn("run abandoned: no activity within threshold")
	}
	return ok, nil
}
