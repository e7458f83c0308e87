package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/model"
)

// Store exposes one Go method per atomic coordination operation. Each
// method is a single SQL statement, or a single transaction where counters
// are bumped alongside the row change, built on a CAS UPDATE ... WHERE, an
// INSERT ... ON CONFLICT, or a SELECT ... FOR UPDATE SKIP LOCKED — executed
// through the pool without holding it across unrelated I/O. Callers never
// read-then-write outside of these methods.
type Store struct {
	pool *Pool
}

// New wraps pool in a Store.
func New(pool *Pool) *Store {
	return &Store{pool: pool}
}

// wrapTransient classifies a low-level pgx/driver error as a transient
// store error so callers can retry with backoff, per the error taxonomy.
func wrapTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: %s: %w: %v", op, cerrors.ErrTransientStore, err)
}

// CreateOrAttachRun inserts the run if absent and always returns the
// persisted row — the caller cannot distinguish "created" from "attached"
// from the return value alone; RegisterWorker reports that via firstJoin.
func (s *Store) CreateOrAttachRun(ctx context.Context, runID, configHash string, snapshot model.ConfigSnapshot) (model.Run, error) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return model.Run{}, fmt.Errorf("store: marshal config snapshot: %w", err)
	}

	const insert = `
		INSERT INTO run (run_id, config_hash, config_snapshot, status, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (run_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, runID, configHash, snapshotJSON, model.RunActive); err != nil {
		return model.Run{}, wrapTransient("create_or_attach_run", err)
	}

	return s.getRun(ctx, runID)
}

func (s *Store) getRun(ctx context.Context, runID string) (model.Run, error) {
	const sel = `
		SELECT run_id, config_hash, config_snapshot, status,
		       created_at, first_worker_at, last_activity_at, processing_completed_at,
		       post_processing_started_at, post_processing_completed_at, completed_at,
		       worker_count, documents_queued, documents_processed, documents_failed, documents_retried,
		       leader_worker_id, leader_elected_at, leader_heartbeat, leader_lease_expires,
		       post_processing_error
		FROM run WHERE run_id = $1`

	row := s.pool.QueryRow(ctx, sel, runID)
	return scanRun(row)
}

func scanRun(row pgx.Row) (model.Run, error) {
	var r model.Run
	var snapshotJSON []byte
	if err := row.Scan(
		&r.RunID, &r.ConfigHash, &snapshotJSON, &r.Status,
		&r.CreatedAt, &r.FirstWorkerAt, &r.LastActivityAt, &r.ProcessingCompletedAt,
		&r.PostProcessingStartedAt, &r.PostProcessingCompletedAt, &r.CompletedAt,
		&r.WorkerCount, &r.DocumentsQueued, &r.DocumentsProcessed, &r.DocumentsFailed, &r.DocumentsRetried,
		&r.LeaderWorkerID, &r.LeaderElectedAt, &r.LeaderHeartbeat, &r.LeaderLeaseExpires,
		&r.PostProcessingError,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, fmt.Errorf("store: run not found: %w", err)
		}
		return model.Run{}, wrapTransient("get_run", err)
	}
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &r.ConfigSnapshot); err != nil {
			return model.Run{}, fmt.Errorf("store: unmarshal config snapshot: %w", err)
		}
	}
	return r, nil
}

// GetRun is the single-read lookup used by run status and by a newly
// elected leader to re-establish its view of the run.
func (s *Store) GetRun(ctx context.Context, runID string) (model.Run, error) {
	return s.getRun(ctx, runID)
}

// RegisterWorker upserts a worker row and bumps run.worker_count exactly
// once, on the worker's first join, inside a single transaction.
func (s *Store) RegisterWorker(ctx context.Context, w model.Worker) (firstJoin bool, err error) {
	capsJSON, err := json.Marshal(w.Capabilities)
	if err != nil {
		return false, fmt.Errorf("store: marshal capabilities: %w", err)
	}

	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return false, wrapTransient("register_worker", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO worker (run_id, worker_id, joined_at, last_heartbeat, status,
		                     hostname, process_id, version, capabilities)
		VALUES ($1, $2, NOW(), NOW(), $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, worker_id) DO UPDATE
		SET last_heartbeat = NOW(), status = $3, left_at = NULL
		RETURNING (xmax = 0)`
	var inserted bool
	if err := tx.QueryRow(ctx, upsert, w.RunID, w.WorkerID, model.WorkerActive,
		w.Hostname, w.ProcessID, w.Version, capsJSON).Scan(&inserted); err != nil {
		return false, wrapTransient("register_worker", err)
	}

	if inserted {
		const bump = `
			UPDATE run SET worker_count = worker_count + 1,
			               first_worker_at = COALESCE(first_worker_at, NOW()),
			               last_activity_at = NOW()
			WHERE run_id = $1`
		if _, err := tx.Exec(ctx, bump, w.RunID); err != nil {
			return false, wrapTransient("register_worker", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, wrapTransient("register_worker", err)
	}
	return inserted, nil
}

// EnqueueDocument inserts a QueueItem if (run_id, doc_id, source_name) is
// absent. If an existing completed row carries a matching content_hash the
// call is a no-op (change detection); if the hash differs the row is
// reopened for reprocessing.
func (s *Store) EnqueueDocument(ctx context.Context, item model.QueueItem) error {
	errJSON, err := json.Marshal(item.ErrorDetails)
	if err != nil {
		return fmt.Errorf("store: marshal error details: %w", err)
	}

	const insert = `
		INSERT INTO queue_item (run_id, doc_id, source_name, source_type, status,
		                         max_retries, parent_doc_id, link_depth, max_link_depth,
		                         content_hash, last_modified, file_size,
		                         priority, scheduled_for, required_capabilities, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id, doc_id, source_name) DO NOTHING`
	tag, err := s.pool.Exec(ctx, insert,
		item.RunID, item.DocID, item.SourceName, item.SourceType, model.ItemPending,
		item.MaxRetries, item.ParentDocID, item.LinkDepth, item.MaxLinkDepth,
		item.ContentHash, item.LastModified, item.FileSize,
		item.Priority, item.ScheduledFor, item.RequiredCapabilities, errJSON)
	if err != nil {
		return wrapTransient("enqueue_document", err)
	}
	if tag.RowsAffected() > 0 {
		s.bumpQueued(ctx, item.RunID)
		return nil
	}

	return s.reconcileExisting(ctx, item)
}

func (s *Store) bumpQueued(ctx context.Context, runID string) {
	const bump = `UPDATE run SET documents_queued = documents_queued + 1, last_activity_at = NOW() WHERE run_id = $1`
	_, _ = s.pool.Exec(ctx, bump, runID)
}

// reconcileExisting implements the change-detection branch of
// enqueue_document: a completed row with a differing content_hash is
// reopened; anything else (matching hash, or no hash observed) is left
// untouched.
func (s *Store) reconcileExisting(ctx context.Context, item model.QueueItem) error {
	if item.ContentHash == "" {
		return nil
	}

	const reopen = `
		UPDATE queue_item
		SET status = $1, worker_id = NULL, claimed_at = NULL, started_at = NULL,
		    completed_at = NULL, failed_at = NULL, retry_count = 0,
		    content_hash = $2, scheduled_for = NOW()
		WHERE run_id = $3 AND doc_id = $4 AND source_name = $5
		  AND status = $6 AND content_hash IS DISTINCT FROM $2`
	_, err := s.pool.Exec(ctx, reopen, model.ItemPending, item.ContentHash,
		item.RunID, item.DocID, item.SourceName, model.ItemCompleted)
	if err != nil {
		return wrapTransient("enqueue_document", err)
	}
	return nil
}

// RecordDependency inserts a link-graph edge, idempotent on its primary
// key. Recording a dependency never implies enqueuing the child — callers
// decide that separately based on the link-depth bound.
func (s *Store) RecordDependency(ctx context.Context, dep model.DocumentDependency) error {
	const insert = `
		INSERT INTO document_dependency (run_id, parent_doc_id, child_doc_id, source_name,
		                                  link_type, link_depth, discovered_at, discovered_by_worker)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (run_id, parent_doc_id, child_doc_id, source_name) DO NOTHING`
	_, err := s.pool.Exec(ctx, insert, dep.RunID, dep.ParentDocID, dep.ChildDocID, dep.SourceName,
		dep.LinkType, dep.LinkDepth, dep.DiscoveredByWorker)
	if err != nil {
		return wrapTransient("record_dependency", err)
	}
	return nil
}

// ClaimNext selects and claims the single highest-priority eligible row for
// worker_id, honoring required capabilities. Returns ok=false if no row
// qualifies — this call never blocks waiting for work.
func (s *Store) ClaimNext(ctx context.Context, runID, workerID string, capabilities map[string]bool) (item model.QueueItem, ok bool, err error) {
	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return model.QueueItem{}, false, wrapTransient("claim_next", err)
	}
	defer tx.Rollback(ctx)

	const selectCandidate = `
		SELECT queue_id, required_capabilities
		FROM queue_item
		WHERE run_id = $1 AND status = $2 AND scheduled_for <= NOW()
		ORDER BY priority DESC, scheduled_for ASC, queue_id ASC
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, selectCandidate, runID, model.ItemPending)
	if err != nil {
		return model.QueueItem{}, false, wrapTransient("claim_next", err)
	}

	var queueID int64
	found := false
	for rows.Next() {
		var id int64
		var required []string
		if err := rows.Scan(&id, &required); err != nil {
			rows.Close()
			return model.QueueItem{}, false, wrapTransient("claim_next", err)
		}
		if workerSatisfies(capabilities, required) {
			queueID = id
			found = true
			break
		}
	}
	rows.Close()

	if !found {
		return model.QueueItem{}, false, nil
	}

	const claim = `
		UPDATE queue_item
		SET status = $1, worker_id = $2, claimed_at = NOW(), started_at = NOW()
		WHERE queue_id = $3
		RETURNING queue_id, run_id, doc_id, source_name, source_type, status,
		          worker_id, claimed_at, started_at, completed_at, failed_at,
		          retry_count, max_retries, error_message,
		          parent_doc_id, link_depth, max_link_depth,
		          content_hash, last_modified, file_size,
		          priority, scheduled_for, required_capabilities`
	row := tx.QueryRow(ctx, claim, model.ItemProcessing, workerID, queueID)
	item, err = scanQueueItem(row)
	if err != nil {
		return model.QueueItem{}, false, wrapTransient("claim_next", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.QueueItem{}, false, wrapTransient("claim_next", err)
	}
	return item, true, nil
}

// workerSatisfies reports whether caps contains every tag in required.
// An empty required set means any worker qualifies.
func workerSatisfies(caps map[string]bool, required []string) bool {
	for _, tag := range required {
		if !caps[tag] {
			return false
		}
	}
	return true
}

func scanQueueItem(row pgx.Row) (model.QueueItem, error) {
	var it model.QueueItem
	err := row.Scan(
		&it.QueueID, &it.RunID, &it.DocID, &it.SourceName, &it.SourceType, &it.Status,
		&it.WorkerID, &it.ClaimedAt, &it.StartedAt, &it.CompletedAt, &it.FailedAt,
		&it.RetryCount, &it.MaxRetries, &it.ErrorMessage,
		&it.ParentDocID, &it.LinkDepth, &it.MaxLinkDepth,
		&it.ContentHash, &it.LastModified, &it.FileSize,
		&it.Priority, &it.ScheduledFor, &it.RequiredCapabilities,
	)
	return it, err
}

// CompleteItem marks a claimed item completed, guarded by worker_id so a
// reaped claim held by a reused worker_id cannot be double-completed.
// Completing an already-completed item is a no-op (RowsAffected()==0).
func (s *Store) CompleteItem(ctx context.Context, queueID int64, workerID, contentHash string) error {
	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return wrapTransient("complete_item", err)
	}
	defer tx.Rollback(ctx)

	const update = `
		UPDATE queue_item
		SET status = $1, completed_at = NOW(), content_hash = $2
		WHERE queue_id = $3 AND worker_id = $4 AND status = $5`
	tag, err := tx.Exec(ctx, update, model.ItemCompleted, contentHash, queueID, workerID, model.ItemProcessing)
	if err != nil {
		return wrapTransient("complete_item", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	const bumpRun = `
		UPDATE run SET documents_processed = documents_processed + 1, last_activity_at = NOW()
		WHERE run_id = (SELECT run_id FROM queue_item WHERE queue_id = $1)`
	if _, err := tx.Exec(ctx, bumpRun, queueID); err != nil {
		return wrapTransient("complete_item", err)
	}

	const bumpWorker = `
		UPDATE worker SET documents_processed = documents_processed + 1
		WHERE run_id = (SELECT run_id FROM queue_item WHERE queue_id = $1) AND worker_id = $2`
	if _, err := tx.Exec(ctx, bumpWorker, queueID, workerID); err != nil {
		return wrapTransient("complete_item", err)
	}

	return wrapTransient("complete_item", tx.Commit(ctx))
}

// FailItem records a failure against a claimed item, guarded by worker_id.
// Retry scheduling (backoff, max_retries comparison) is decided by the
// caller (internal/queue) and passed in as willRetry/nextScheduledFor; the
// store only enforces the terminal-vs-retry state transition atomically.
func (s *Store) FailItem(ctx context.Context, queueID int64, workerID, errMsg string, errDetails map[string]any, willRetry bool, nextScheduledFor time.Time) error {
	detailsJSON, err := json.Marshal(errDetails)
	if err != nil {
		return fmt.Errorf("store: marshal error details: %w", err)
	}

	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return wrapTransient("fail_item", err)
	}
	defer tx.Rollback(ctx)

	var update string
	var args []interface{}
	if willRetry {
		update = `
			UPDATE queue_item
			SET status = $1, retry_count = retry_count + 1, worker_id = NULL,
			    claimed_at = NULL, started_at = NULL, scheduled_for = $2,
			    error_message = $3, error_details = $4
			WHERE queue_id = $5 AND worker_id = $6 AND status = $7`
		args = []interface{}{model.ItemPending, nextScheduledFor, errMsg, detailsJSON, queueID, workerID, model.ItemProcessing}
	} else {
		update = `
			UPDATE queue_item
			SET status = $1, failed_at = NOW(), error_message = $2, error_details = $3
			WHERE queue_id = $4 AND worker_id = $5 AND status = $6`
		args = []interface{}{model.ItemFailed, errMsg, detailsJSON, queueID, workerID, model.ItemProcessing}
	}

	tag, err := tx.Exec(ctx, update, args...)
	if err != nil {
		return wrapTransient("fail_item", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if !willRetry {
		const bumpRun = `
			UPDATE run SET documents_failed = documents_failed + 1, last_activity_at = NOW()
			WHERE run_id = (SELECT run_id FROM queue_item WHERE queue_id = $1)`
		if _, err := tx.Exec(ctx, bumpRun, queueID); err != nil {
			return wrapTransient("fail_item", err)
		}
		const bumpWorker = `
			UPDATE worker SET documents_failed = documents_failed + 1
			WHERE run_id = (SELECT run_id FROM queue_item WHERE queue_id = $1) AND worker_id = $2`
		if _, err := tx.Exec(ctx, bumpWorker, queueID, workerID); err != nil {
			return wrapTransient("fail_item", err)
		}
	} else {
		const bumpRun = `
			UPDATE run SET documents_retried = documents_retried + 1, last_activity_at = NOW()
			WHERE run_id = (SELECT run_id FROM queue_item WHERE queue_id = $1)`
		if _, err := tx.Exec(ctx, bumpRun, queueID); err != nil {
			return wrapTransient("fail_item", err)
		}
	}

	return wrapTransient("fail_item", tx.Commit(ctx))
}

// HeartbeatWorker bumps last_heartbeat so the reaper does not consider the
// caller dead.
func (s *Store) HeartbeatWorker(ctx context.Context, runID, workerID string) error {
	const update = `UPDATE worker SET last_heartbeat = NOW() WHERE run_id = $1 AND worker_id = $2`
	if _, err := s.pool.Exec(ctx, update, runID, workerID); err != nil {
		return wrapTransient("heartbeat_worker", err)
	}
	return nil
}

// LeaveWorker marks a cleanly-shutting-down worker stopped and records when
// it left, so the reaper's dead-worker scan skips it and a later
// abandonment check does not count it as still alive.
func (s *Store) LeaveWorker(ctx context.Context, runID, workerID string) error {
	const update = `UPDATE worker SET status = $1, left_at = NOW() WHERE run_id = $2 AND worker_id = $3`
	if _, err := s.pool.Exec(ctx, update, model.WorkerStopped, runID, workerID); err != nil {
		return wrapTransient("leave_worker", err)
	}
	return nil
}

// MostRecentWorkerHeartbeat returns the latest last_heartbeat among runID's
// active workers, or the zero Time if none are registered as active. The
// lifecycle controller uses this alongside last_activity_at to decide
// whether a quiet run still has live workers.
func (s *Store) MostRecentWorkerHeartbeat(ctx context.Context, runID string) (time.Time, error) {
	const sel = `SELECT MAX(last_heartbeat) FROM worker WHERE run_id = $1 AND status = $2`
	var ts *time.Time
	if err := s.pool.QueryRow(ctx, sel, runID, model.WorkerActive).Scan(&ts); err != nil {
		return time.Time{}, wrapTransient("most_recent_worker_heartbeat", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// AttemptLeaderElection is a single multi-branch CAS update: become leader
// if none exists or the lease expired, renew if already leader, otherwise
// return false. The predicate is evaluated entirely by PostgreSQL against
// its own clock.
func (s *Store) AttemptLeaderElection(ctx context.Context, runID, workerID string, leaseSeconds int) (bool, error) {
	const update = `
		UPDATE run
		SET leader_worker_id = $2,
		    leader_elected_at = CASE WHEN leader_worker_id IS DISTINCT FROM $2 THEN NOW() ELSE leader_elected_at END,
		    leader_heartbeat = NOW(),
		    leader_lease_expires = NOW() + make_interval(secs => $3)
		WHERE run_id = $1
		  AND (leader_worker_id IS NULL
		       OR leader_lease_expires < NOW()
		       OR leader_worker_id = $2)`
	tag, err := s.pool.Exec(ctx, update, runID, workerID, leaseSeconds)
	if err != nil {
		return false, wrapTransient("attempt_leader_election", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReclaimStale moves processing rows whose claimed_at predates the claim
// timeout back to pending (or to failed if that push exceeds max_retries),
// and marks workers silent longer than workerTimeout as failed. Returns the
// count of queue items reclaimed.
func (s *Store) ReclaimStale(ctx context.Context, runID string, claimTimeout, workerTimeout time.Duration) (reclaimed int, err error) {
	tx, err := s.pool.Raw().Begin(ctx)
	if err != nil {
		return 0, wrapTransient("reclaim_stale", err)
	}
	defer tx.Rollback(ctx)

	const requeue = `
		UPDATE queue_item
		SET status = $1, worker_id = NULL, claimed_at = NULL, started_at = NULL,
		    retry_count = retry_count + 1, scheduled_for = NOW()
		WHERE run_id = $2 AND status = $3 AND claimed_at < NOW() - make_interval(secs => $4)
		  AND retry_count + 1 <= max_retries`
	reqTag, err := tx.Exec(ctx, requeue, model.ItemPending, runID, model.ItemProcessing, claimTimeout.Seconds())
	if err != nil {
		return 0, wrapTransient("reclaim_stale", err)
	}

	const fail = `
		UPDATE queue_item
		SET status = $1, failed_at = NOW(), worker_id = NULL,
		    retry_count = retry_count + 1,
		    error_message = 'exceeded max_retries after reclaim'
		WHERE run_id = $2 AND status = $3 AND claimed_at < NOW() - make_interval(secs => $4)
		  AND retry_count + 1 > max_retries`
	failTag, err := tx.Exec(ctx, fail, model.ItemFailed, runID, model.ItemProcessing, claimTimeout.Seconds())
	if err != nil {
		return 0, wrapTransient("reclaim_stale", err)
	}
	if n := failTag.RowsAffected(); n > 0 {
		const bumpFailed = `UPDATE run SET documents_failed = documents_failed + $1, last_activity_at = NOW() WHERE run_id = $2`
		if _, err := tx.Exec(ctx, bumpFailed, n, runID); err != nil {
			return 0, wrapTransient("reclaim_stale", err)
		}
	}

	const markDeadWorkers = `
		UPDATE worker
		SET status = $1, left_at = last_heartbeat
		WHERE run_id = $2 AND status NOT IN ($1, $3) AND last_heartbeat < NOW() - make_interval(secs => $4)`
	if _, err := tx.Exec(ctx, markDeadWorkers, model.WorkerFailed, runID, model.WorkerStopped, workerTimeout.Seconds()); err != nil {
		return 0, wrapTransient("reclaim_stale", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, wrapTransient("reclaim_stale", err)
	}
	return int(reqTag.RowsAffected() + failTag.RowsAffected()), nil
}

// SummarizeQueue returns the per-status item counts used for terminal
// detection and run status reporting.
func (s *Store) SummarizeQueue(ctx context.Context, runID string) (model.QueueSummary, error) {
	const sel = `
		SELECT status, COUNT(*) FROM queue_item WHERE run_id = $1 GROUP BY status`
	rows, err := s.pool.Query(ctx, sel, runID)
	if err != nil {
		return model.QueueSummary{}, wrapTransient("summarize_queue", err)
	}
	defer rows.Close()

	var sum model.QueueSummary
	for rows.Next() {
		var status model.ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.QueueSummary{}, wrapTransient("summarize_queue", err)
		}
		switch status {
		case model.ItemPending:
			sum.Pending = count
		case model.ItemProcessing:
			sum.Processing = count
		case model.ItemCompleted:
			sum.Completed = count
		case model.ItemFailed:
			sum.Failed = count
		case model.ItemRetry:
			sum.Retry = count
		}
	}
	return sum, wrapTransient("summarize_queue", rows.Err())
}

// TransitionRun performs the CAS status transition that drives the
// lifecycle state machine, optionally setting side-effect fields in the
// same statement (e.g. post_processing_started_at on entry to
// post_processing). extra must use named arguments starting at $4.
func (s *Store) TransitionRun(ctx context.Context, runID string, from, to model.RunStatus, setClause string, extraArgs ...interface{}) (bool, error) {
	sql := fmt.Sprintf(`
		UPDATE run
		SET status = $1, last_activity_at = NOW()%s
		WHERE run_id = $2 AND status = $3`, setClause)
	args := append([]interface{}{to, runID, from}, extraArgs...)
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, wrapTransient("transition_run", err)
	}
	return tag.RowsAffected() > 0, nil
}
