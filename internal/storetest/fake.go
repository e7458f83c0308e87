// Package storetest provides an in-memory implementation of store.API for
// unit testing the components layered on top of the coordination store
// (registry, queue, election, worker, lifecycle, reaper) without a live
// PostgreSQL instance.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/store"
)

var _ store.API = (*Fake)(nil)

// Fake is a single-process, mutex-guarded stand-in for store.Store. It
// reproduces the CAS semantics of each operation closely enough to drive
// the invariants under test, not the SQL itself.
type Fake struct {
	mu sync.Mutex

	runs    map[string]*model.Run
	workers map[string]*model.Worker // key: runID+"/"+workerID
	items   map[int64]*model.QueueItem
	deps    map[string]*model.DocumentDependency
	nextID  int64

	// Now lets tests control the clock for lease/timeout logic; defaults
	// to time.Now if unset.
	Now func() time.Time
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		runs:    make(map[string]*model.Run),
		workers: make(map[string]*model.Worker),
		items:   make(map[int64]*model.QueueItem),
		deps:    make(map[string]*model.DocumentDependency),
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *Fake) CreateOrAttachRun(ctx context.Context, runID, configHash string, snapshot model.ConfigSnapshot) (model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.runs[runID]; ok {
		return *r, nil
	}
	r := &model.Run{
		RunID: runID, ConfigHash: configHash, ConfigSnapshot: snapshot,
		Status: model.RunActive, CreatedAt: f.now(), LastActivityAt: f.now(),
	}
	f.runs[runID] = r
	return *r, nil
}

func (f *Fake) GetRun(ctx context.Context, runID string) (model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return model.Run{}, fmt.Errorf("storetest: run %q not found", runID)
	}
	return *r, nil
}

func (f *Fake) RegisterWorker(ctx context.Context, w model.Worker) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := w.RunID + "/" + w.WorkerID
	_, existed := f.workers[key]
	w.JoinedAt = f.now()
	w.LastHeartbeat = f.now()
	w.Status = model.WorkerActive
	f.workers[key] = &w

	if !existed {
		if r, ok := f.runs[w.RunID]; ok {
			r.WorkerCount++
			if r.FirstWorkerAt == nil {
				t := f.now()
				r.FirstWorkerAt = &t
			}
			r.LastActivityAt = f.now()
		}
	}
	return !existed, nil
}

func (f *Fake) EnqueueDocument(ctx context.Context, item model.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, it := range f.items {
		if it.RunID == item.RunID && it.DocID == item.DocID && it.SourceName == item.SourceName {
			if it.Status == model.ItemCompleted && item.ContentHash != "" && it.ContentHash != item.ContentHash {
				it.Status = model.ItemPending
				it.WorkerID = nil
				it.ClaimedAt = nil
				it.StartedAt = nil
				it.CompletedAt = nil
				it.RetryCount = 0
				it.ContentHash = item.ContentHash
				it.ScheduledFor = f.now()
			}
			return nil
		}
	}

	f.nextID++
	item.QueueID = f.nextID
	item.Status = model.ItemPending
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = f.now()
	}
	f.items[item.QueueID] = &item

	if r, ok := f.runs[item.RunID]; ok {
		r.DocumentsQueued++
		r.LastActivityAt = f.now()
	}
	return nil
}

func (f *Fake) RecordDependency(ctx context.Context, dep model.DocumentDependency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%s/%s", dep.RunID, dep.ParentDocID, dep.ChildDocID, dep.SourceName)
	if _, ok := f.deps[key]; ok {
		return nil
	}
	dep.DiscoveredAt = f.now()
	f.deps[key] = &dep
	return nil
}

func (f *Fake) ClaimNext(ctx context.Context, runID, workerID string, capabilities map[string]bool) (model.QueueItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*model.QueueItem
	for _, it := range f.items {
		if it.RunID != runID || it.Status != model.ItemPending {
			continue
		}
		if it.ScheduledFor.After(f.now()) {
			continue
		}
		if !satisfies(capabilities, it.RequiredCapabilities) {
			continue
		}
		candidates = append(candidates, it)
	}
	if len(candidates) == 0 {
		return model.QueueItem{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if !candidates[i].ScheduledFor.Equal(candidates[j].ScheduledFor) {
			return candidates[i].ScheduledFor.Before(candidates[j].ScheduledFor)
		}
		return candidates[i].QueueID < candidates[j].QueueID
	})

	chosen := candidates[0]
	chosen.Status = model.ItemProcessing
	wid := workerID
	chosen.WorkerID = &wid
	now := f.now()
	chosen.ClaimedAt = &now
	chosen.StartedAt = &now
	return *chosen, true, nil
}

func satisfies(caps map[string]bool, required []string) bool {
	for _, tag := range required {
		if !caps[tag] {
			return false
		}
	}
	return true
}

func (f *Fake) CompleteItem(ctx context.Context, queueID int64, workerID, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.items[queueID]
	if !ok || it.Status != model.ItemProcessing || it.WorkerID == nil || *it.WorkerID != workerID {
		return nil
	}
	it.Status = model.ItemCompleted
	now := f.now()
	it.CompletedAt = &now
	it.ContentHash = contentHash

	if r, ok := f.runs[it.RunID]; ok {
		r.DocumentsProcessed++
		r.LastActivityAt = f.now()
	}
	if w, ok := f.workers[it.RunID+"/"+workerID]; ok {
		w.DocumentsProcessed++
	}
	return nil
}

func (f *Fake) FailItem(ctx context.Context, queueID int64, workerID, errMsg string, errDetails map[string]any, willRetry bool, nextScheduledFor time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	it, ok := f.items[queueID]
	if !ok || it.Status != model.ItemProcessing || it.WorkerID == nil || *it.WorkerID != workerID {
		return nil
	}

	it.ErrorMessage = errMsg
	it.ErrorDetails = errDetails

	if willRetry {
		it.Status = model.ItemRetry
		it.RetryCount++
		it.WorkerID = nil
		it.ClaimedAt = nil
		it.StartedAt = nil
		it.ScheduledFor = nextScheduledFor
		it.Status = model.ItemPending
		if r, ok := f.runs[it.RunID]; ok {
			r.DocumentsRetried++
		}
	} else {
		it.Status = model.ItemFailed
		now := f.now()
		it.FailedAt = &now
		if r, ok := f.runs[it.RunID]; ok {
			r.DocumentsFailed++
		}
		if w, ok := f.workers[it.RunID+"/"+workerID]; ok {
			w.DocumentsFailed++
		}
	}
	return nil
}

func (f *Fake) HeartbeatWorker(ctx context.Context, runID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workers[runID+"/"+workerID]; ok {
		w.LastHeartbeat = f.now()
	}
	return nil
}

func (f *Fake) LeaveWorker(ctx context.Context, runID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workers[runID+"/"+workerID]; ok {
		w.Status = model.WorkerStopped
		left := f.now()
		w.LeftAt = &left
	}
	return nil
}

func (f *Fake) MostRecentWorkerHeartbeat(ctx context.Context, runID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest time.Time
	for _, w := range f.workers {
		if w.RunID != runID || w.Status != model.WorkerActive {
			continue
		}
		if w.LastHeartbeat.After(latest) {
			latest = w.LastHeartbeat
		}
	}
	return latest, nil
}

func (f *Fake) AttemptLeaderElection(ctx context.Context, runID, workerID string, leaseSeconds int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.runs[runID]
	if !ok {
		return false, fmt.Errorf("storetest: run %q not found", runID)
	}
	now := f.now()
	noLeader := r.LeaderWorkerID == nil
	expired := r.LeaderLeaseExpires != nil && r.LeaderLeaseExpires.Before(now)
	isIncumbent := r.LeaderWorkerID != nil && *r.LeaderWorkerID == workerID

	if noLeader || expired || isIncumbent {
		wid := workerID
		r.LeaderWorkerID = &wid
		if noLeader || expired {
			t := now
			r.LeaderElectedAt = &t
		}
		hb := now
		r.LeaderHeartbeat = &hb
		exp := now.Add(time.Duration(leaseSeconds) * time.Second)
		r.LeaderLeaseExpires = &exp
		return true, nil
	}
	return false, nil
}

func (f *Fake) ReclaimStale(ctx context.Context, runID string, claimTimeout, workerTimeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	reclaimed := 0
	for _, it := range f.items {
		if it.RunID != runID || it.Status != model.ItemProcessing || it.ClaimedAt == nil {
			continue
		}
		if now.Sub(*it.ClaimedAt) < claimTimeout {
			continue
		}
		it.RetryCount++
		it.WorkerID = nil
		it.ClaimedAt = nil
		it.StartedAt = nil
		if it.RetryCount > it.MaxRetries {
			it.Status = model.ItemFailed
			failedAt := now
			it.FailedAt = &failedAt
			if r, ok := f.runs[runID]; ok {
				r.DocumentsFailed++
			}
		} else {
			it.Status = model.ItemPending
			it.ScheduledFor = now
		}
		reclaimed++
	}

	for _, w := range f.workers {
		if w.RunID != runID || w.Status == model.WorkerFailed || w.Status == model.WorkerStopped {
			continue
		}
		if now.Sub(w.LastHeartbeat) >= workerTimeout {
			w.Status = model.WorkerFailed
			left := w.LastHeartbeat
			w.LeftAt = &left
		}
	}
	return reclaimed, nil
}

func (f *Fake) SummarizeQueue(ctx context.Context, runID string) (model.QueueSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sum model.QueueSummary
	for _, it := range f.items {
		if it.RunID != runID {
			continue
		}
		switch it.Status {
		case model.ItemPending:
			sum.Pending++
		case model.ItemProcessing:
			sum.Processing++
		case model.ItemCompleted:
			sum.Completed++
		case model.ItemFailed:
			sum.Failed++
		case model.ItemRetry:
			sum.Retry++
		}
	}
	return sum, nil
}

func (f *Fake) TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, setClause string, extraArgs ...interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.runs[runID]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.LastActivityAt = f.now()
	return true, nil
}

// Workers returns a snapshot of worker rows for assertions, keyed by
// run_id+"/"+worker_id, in a test.
func (f *Fake) Workers() map[string]model.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.Worker, len(f.workers))
	for k, v := range f.workers {
		out[k] = *v
	}
	return out
}

// Items returns a snapshot of queue items for assertions, keyed by
// queue_id, in a test.
func (f *Fake) Items() map[int64]model.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]model.QueueItem, len(f.items))
	for k, v := range f.items {
		out[k] = *v
	}
	return out
}
