package store

import (
	"context"
	"time"

	"github.com/evalgo-org/docingest/internal/model"
)

// API is the coordination operation surface every other component depends
// on. Depending on this interface instead of the concrete
// *Store lets registry/queue/election/worker/lifecycle/reaper be unit
// tested against an in-memory fake instead of a live PostgreSQL instance.
type API interface {
	CreateOrAttachRun(ctx context.Context, runID, configHash string, snapshot model.ConfigSnapshot) (model.Run, error)
	GetRun(ctx context.Context, runID string) (model.Run, error)
	RegisterWorker(ctx context.Context, w model.Worker) (firstJoin bool, err error)
	EnqueueDocument(ctx context.Context, item model.QueueItem) error
	RecordDependency(ctx context.Context, dep model.DocumentDependency) error
	ClaimNext(ctx context.Context, runID, workerID string, capabilities map[string]bool) (model.QueueItem, bool, error)
	CompleteItem(ctx context.Context, queueID int64, workerID, contentHash string) error
	FailItem(ctx context.Context, queueID int64, workerID, errMsg string, errDetails map[string]any, willRetry bool, nextScheduledFor time.Time) error
	HeartbeatWorker(ctx context.Context, runID, workerID string) error
	LeaveWorker(ctx context.Context, runID, workerID string) error
	MostRecentWorkerHeartbeat(ctx context.Context, runID string) (time.Time, error)
	AttemptLeaderElection(ctx context.Context, runID, workerID string, leaseSeconds int) (bool, error)
	ReclaimStale(ctx context.Context, runID string, claimTimeout, workerTimeout time.Duration) (int, error)
	SummarizeQueue(ctx context.Context, runID string) (model.QueueSummary, error)
	TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, setClause string, extraArgs ...interface{}) (bool, error)
}

var _ API = (*Store)(nil)
