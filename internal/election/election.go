// Package election implements the Leader Election: a lease-based
// single-leader-per-run with renewal, predicated entirely on the
// coordination database's clock.
package election

import (
	"context"
	"time"

	"github.com/evalgo-org/docingest/internal/store"
)

// DefaultLeaseSeconds is the default leader lease duration, renewed by the
// current leader roughly every DefaultLeaseSeconds/3.
const DefaultLeaseSeconds = 60

// Elector wraps attempt_leader_election with the worker-side renewal
// cadence (every L/3).
type Elector struct {
	store        store.API
	runID        string
	workerID     string
	leaseSeconds int

	isLeader bool
}

// New returns an Elector for one (run, worker) pair using leaseSeconds
// (defaulting to DefaultLeaseSeconds when zero).
func New(s store.API, runID, workerID string, leaseSeconds int) *Elector {
	if leaseSeconds <= 0 {
		leaseSeconds = DefaultLeaseSeconds
	}
	return &Elector{store: s, runID: runID, workerID: workerID, leaseSeconds: leaseSeconds}
}

// RenewInterval is how often the worker loop should call Attempt: every
// L/3, whether or not it currently holds the lease.
func (e *Elector) RenewInterval() time.Duration {
	return time.Duration(e.leaseSeconds) * time.Second / 3
}

// Attempt runs one election/renewal cycle and reports whether this worker
// is the leader afterward.
func (e *Elector) Attempt(ctx context.Context) (bool, error) {
	won, err := e.store.AttemptLeaderElection(ctx, e.runID, e.workerID, e.leaseSeconds)
	if err != nil {
		return false, err
	}
	e.isLeader = won
	return won, nil
}

// IsLeader reports the outcome of the most recent Attempt without calling
// the store.
func (e *Elector) IsLeader() bool {
	return e.isLeader
}
