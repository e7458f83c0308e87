package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/storetest"
)

func TestTick_ReclaimsExpiredClaim(t *testing.T) {
	fake := storetest.New()
	clock := time.Now()
	fake.Now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)
	require.NoError(t, fake.EnqueueDocument(ctx, model.QueueItem{
		RunID: "run1", DocID: "d1", SourceName: "s1", SourceType: model.SourceConfigured, MaxRetries: 3,
	}))
	item, ok, err := fake.ClaimNext(ctx, "run1", "worker-a", nil)
	require.NoError(t, err)
	require.True(t, ok)

	clock = clock.Add(11 * time.Minute)

	r := New(fake)
	require.NoError(t, r.Tick(ctx, "run1"))

	items := fake.Items()
	got := items[item.QueueID]
	assert.Equal(t, model.ItemPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestTick_ExceedingMaxRetriesFailsItem(t *testing.T) {
	fake := storetest.New()
	clock := time.Now()
	fake.Now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)
	require.NoError(t, fake.EnqueueDocument(ctx, model.QueueItem{
		RunID: "run1", DocID: "d1", SourceName: "s1", SourceType: model.SourceConfigured, MaxRetries: 0,
	}))
	item, ok, err := fake.ClaimNext(ctx, "run1", "worker-a", nil)
	require.NoError(t, err)
	require.True(t, ok)

	clock = clock.Add(11 * time.Minute)

	r := New(fake)
	require.NoError(t, r.Tick(ctx, "run1"))

	items := fake.Items()
	got := items[item.QueueID]
	assert.Equal(t, model.ItemFailed, got.Status)
}

func TestTick_MarksDeadWorkerFailed(t *testing.T) {
	fake := storetest.New()
	clock := time.Now()
	fake.Now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := fake.CreateOrAttachRun(ctx, "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)
	_, err = fake.RegisterWorker(ctx, model.Worker{RunID: "run1", WorkerID: "worker-a"})
	require.NoError(t, err)

	clock = clock.Add(6 * time.Minute)

	r := New(fake)
	require.NoError(t, r.Tick(ctx, "run1"))

	worker, ok := fake.Workers()["run1/worker-a"]
	require.True(t, ok)
	assert.Equal(t, model.WorkerFailed, worker.Status)
}
