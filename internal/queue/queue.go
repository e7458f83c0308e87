// Package queue implements the Work Queue: claim/complete/fail with
// retry backoff, recursive link discovery bounded by max_link_depth, and
// priority inheritance for linked items.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo-org/docingest/internal/backoff"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/store"
)

// DefaultMaxRetries, DefaultRetryBase, and DefaultRetryCap are the default
// retry policy for items that fail transiently. Exposed so callers can
// override them per deployment via WithRetryBackoff.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 30 * time.Second
	DefaultRetryCap   = 15 * time.Minute
)

// Queue wraps the coordination store's item operations with the claim
// policy, link-discovery, and retry-backoff logic assigned to the work
// queue component.
type Queue struct {
	store     store.API
	retryBase time.Duration
	retryCap  time.Duration
}

// New wraps s with the default retry backoff parameters.
func New(s store.API) *Queue {
	return &Queue{store: s, retryBase: DefaultRetryBase, retryCap: DefaultRetryCap}
}

// WithRetryBackoff overrides the base/cap defaults; deployments with a
// different tolerance for retry latency can tune this per run.
func (q *Queue) WithRetryBackoff(base, maxDelay time.Duration) *Queue {
	q.retryBase = base
	q.retryCap = maxDelay
	return q
}

// ClaimNext returns the next eligible item for workerID, or ok=false if the
// queue has nothing claimable right now.
func (q *Queue) ClaimNext(ctx context.Context, runID, workerID string, capabilities map[string]bool) (model.QueueItem, bool, error) {
	return q.store.ClaimNext(ctx, runID, workerID, capabilities)
}

// Complete marks item finished successfully and records the discovered
// outbound links: one DocumentDependency edge per link, and — for links
// within the depth bound — a newly enqueued linked QueueItem inheriting
// max_link_depth and priority-minus-one.
func (q *Queue) Complete(ctx context.Context, item model.QueueItem, result pipeline.ProcessResult, workerID string) error {
	for _, link := range result.OutboundLinks {
		if err := q.recordLink(ctx, item, link, workerID); err != nil {
			return err
		}
	}
	return q.store.CompleteItem(ctx, item.QueueID, workerID, result.ContentHash)
}

func (q *Queue) recordLink(ctx context.Context, parent model.QueueItem, link pipeline.OutboundLink, workerID string) error {
	depth := parent.LinkDepth + 1

	if err := q.store.RecordDependency(ctx, model.DocumentDependency{
		RunID: parent.RunID, ParentDocID: parent.DocID, ChildDocID: link.ChildDocID,
		SourceName: link.SourceName, LinkType: model.LinkDiscovered, LinkDepth: depth,
		DiscoveredByWorker: workerID,
	}); err != nil {
		return fmt.Errorf("queue: record dependency: %w", err)
	}

	// Items beyond the depth bound are recorded as dependencies but not
	// enqueued.
	if depth > parent.MaxLinkDepth {
		return nil
	}

	parentDocID := parent.DocID
	if err := q.store.EnqueueDocument(ctx, model.QueueItem{
		RunID: parent.RunID, DocID: link.ChildDocID, SourceName: link.SourceName,
		SourceType: model.SourceLinked, MaxRetries: parent.MaxRetries,
		ParentDocID: &parentDocID, LinkDepth: depth, MaxLinkDepth: parent.MaxLinkDepth,
		Priority: parent.Priority - 1, ScheduledFor: time.Now(),
	}); err != nil {
		return fmt.Errorf("queue: enqueue link %s: %w", link.ChildDocID, err)
	}
	return nil
}

// FailTransient records a retryable failure. It decides retry vs terminal
// failed by comparing retry_count+1 against max_retries, computes the
// backoff delay for the next attempt, and hands both to the store, which
// applies the transition with the new scheduled_for.
func (q *Queue) FailTransient(ctx context.Context, item model.QueueItem, workerID string, cause error) error {
	delay := backoff.Delay(q.retryBase, q.retryCap, item.RetryCount)
	willRetry := item.RetryCount+1 <= item.MaxRetries
	return q.store.FailItem(ctx, item.QueueID, workerID, cause.Error(),
		map[string]any{"retryable": true}, willRetry, time.Now().Add(delay))
}

// FailPermanent records a terminal failure; the item never retries.
func (q *Queue) FailPermanent(ctx context.Context, item model.QueueItem, workerID string, cause error) error {
	return q.store.FailItem(ctx, item.QueueID, workerID, cause.Error(),
		map[string]any{"retryable": false}, false, time.Time{})
}

// Summarize reports per-status counts, used by the lifecycle controller's
// terminal detection and by `run status`.
func (q *Queue) Summarize(ctx context.Context, runID string) (model.QueueSummary, error) {
	return q.store.SummarizeQueue(ctx, runID)
}
