// Package reaper implements the Stale-Work Reaper: reclaiming expired
// processing claims and marking dead workers failed. The reaper's effects
// are observable only through the queue; it never contacts workers.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo-org/docingest/internal/dblog"
	"github.com/evalgo-org/docingest/internal/metrics"
	"github.com/evalgo-org/docingest/internal/store"
)

var log = dblog.New("reaper")

// DefaultClaimTimeout and DefaultWorkerTimeout bound how long a claim or a
// worker heartbeat may go stale before the reaper reclaims it.
const (
	DefaultClaimTimeout  = 10 * time.Minute
	DefaultWorkerTimeout = 5 * time.Minute
)

// Reaper runs the reclaim_stale tick, optionally recording metrics.
type Reaper struct {
	store         store.API
	claimTimeout  time.Duration
	workerTimeout time.Duration
	metrics       *metrics.Metrics
}

// New returns a Reaper using the default timeouts.
func New(s store.API) *Reaper {
	return &Reaper{store: s, claimTimeout: DefaultClaimTimeout, workerTimeout: DefaultWorkerTimeout}
}

// WithTimeouts overrides claim_timeout and worker_timeout.
func (r *Reaper) WithTimeouts(claimTimeout, workerTimeout time.Duration) *Reaper {
	r.claimTimeout = claimTimeout
	r.workerTimeout = workerTimeout
	return r
}

// WithMetrics attaches a metrics sink; reclaimed-item counts are recorded
// against ReaperReclaimedTotal.
func (r *Reaper) WithMetrics(m *metrics.Metrics) *Reaper {
	r.metrics = m
	return r
}

// Tick reclaims stale claims and marks dead workers for runID. Safe to call
// from every worker as an opportunistic cheap pass, and from the leader as
// authoritative cleanup.
func (r *Reaper) Tick(ctx context.Context, runID string) error {
	reclaimed, err := r.store.ReclaimStale(ctx, runID, r.claimTimeout, r.workerTimeout)
	if err != nil {
		return fmt.Errorf("reaper: reclaim_stale: %w", err)
	}
	if reclaimed > 0 {
		log.WithField("run_id", runID).WithField("reclaimed", reclaimed).Info("reclaimed stale work")
		if r.metrics != nil {
			r.metrics.ReaperReclaimedTotal.Add(float64(reclaimed))
		}
	}
	return nil
}
