package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/storetest"
)

func seedItem(t *testing.T, fake *storetest.Fake, runID, docID string, depth, maxDepth, priority int) model.QueueItem {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fake.EnqueueDocument(ctx, model.QueueItem{
		RunID: runID, DocID: docID, SourceName: "s1", SourceType: model.SourceConfigured,
		MaxRetries: 3, LinkDepth: depth, MaxLinkDepth: maxDepth, Priority: priority,
	}))
	item, ok, err := fake.ClaimNext(ctx, runID, "worker-a", nil)
	require.NoError(t, err)
	require.True(t, ok)
	return item
}

func TestComplete_EnqueuesLinksWithinDepthBound(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)

	q := New(fake)
	item := seedItem(t, fake, "run1", "d1", 0, 1, 5)

	err = q.Complete(ctx, item, pipeline.ProcessResult{
		ContentHash: "hashd1",
		OutboundLinks: []pipeline.OutboundLink{
			{ChildDocID: "d2", SourceName: "s1"},
		},
	}, "worker-a")
	require.NoError(t, err)

	items := fake.Items()
	var linked *model.QueueItem
	for _, it := range items {
		if it.DocID == "d2" {
			cp := it
			linked = &cp
		}
	}
	require.NotNil(t, linked)
	assert.Equal(t, model.SourceLinked, linked.SourceType)
	assert.Equal(t, 1, linked.LinkDepth)
	assert.Equal(t, 4, linked.Priority)
}

func TestComplete_BeyondDepthBoundRecordsDependencyOnly(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)

	q := New(fake)
	item := seedItem(t, fake, "run1", "d1", 0, 0, 0) // max_link_depth=0

	err = q.Complete(ctx, item, pipeline.ProcessResult{
		ContentHash: "hashd1",
		OutboundLinks: []pipeline.OutboundLink{
			{ChildDocID: "d2", SourceName: "s1"},
		},
	}, "worker-a")
	require.NoError(t, err)

	items := fake.Items()
	for _, it := range items {
		assert.NotEqual(t, "d2", it.DocID, "d2 must not be enqueued beyond the depth bound")
	}
}

func TestFailTransient_RequeuesUnderMaxRetries(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)

	q := New(fake)
	item := seedItem(t, fake, "run1", "d1", 0, 0, 0)

	require.NoError(t, q.FailTransient(ctx, item, "worker-a", errors.New("timeout")))

	items := fake.Items()
	got := items[item.QueueID]
	assert.Equal(t, model.ItemPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestFailPermanent_NeverRetries(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()
	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)

	q := New(fake)
	item := seedItem(t, fake, "run1", "d1", 0, 0, 0)

	require.NoError(t, q.FailPermanent(ctx, item, "worker-a", errors.New("404")))

	items := fake.Items()
	got := items[item.QueueID]
	assert.Equal(t, model.ItemFailed, got.Status)
}
