package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/fingerprint"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/registry"
	"github.com/evalgo-org/docingest/internal/storetest"
)

// stubSource serves a fixed, in-memory document set under one source name.
// seed lists the documents Enumerate reports (the initial crawl); docs is
// the full fetchable set, which also includes documents only reachable by
// a discovered link so they never get double-seeded as configured items.
type stubSource struct {
	name     string
	seed     []string
	docs     map[string][]byte
	fetchErr map[string]error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Type() string { return "stub" }

func (s *stubSource) Enumerate(ctx context.Context) (<-chan pipeline.DocMeta, <-chan error) {
	metaCh := make(chan pipeline.DocMeta, len(s.seed))
	errCh := make(chan error, 1)
	for _, id := range s.seed {
		metaCh <- pipeline.DocMeta{DocID: id, Size: int64(len(s.docs[id]))}
	}
	close(metaCh)
	errCh <- nil
	return metaCh, errCh
}

func (s *stubSource) Fetch(ctx context.Context, docID string) (pipeline.Content, error) {
	if err := s.fetchErr[docID]; err != nil {
		return pipeline.Content{}, err
	}
	body := s.docs[docID]
	sum := sha256.Sum256(body)
	return pipeline.Content{Bytes: body, ContentHash: hex.EncodeToString(sum[:]), Size: int64(len(body))}, nil
}

// stubPipeline reports one outbound link for "a" -> "b" and none otherwise.
type stubPipeline struct{}

func (stubPipeline) Process(ctx context.Context, docID string, content pipeline.Content, meta pipeline.DocMeta) (pipeline.ProcessResult, error) {
	result := pipeline.ProcessResult{ContentHash: content.ContentHash}
	if docID == "a" {
		result.OutboundLinks = []pipeline.OutboundLink{{ChildDocID: "b", SourceName: "docs"}}
	}
	return result, nil
}

type noopDetector struct{}

func (noopDetector) Detect(ctx context.Context, runID string) (pipeline.RelationshipSummary, error) {
	return pipeline.RelationshipSummary{}, nil
}

func testAttachOptions(sourceFactories map[string]registry.SourceFactory) registry.AttachOptions {
	return registry.AttachOptions{
		Config: fingerprint.Input{
			Sources:       []fingerprint.Source{{Name: "docs", Type: "stub", MaxLinkDepth: 2, Priority: 5}},
			StorageTarget: "postgres",
		},
		WorkerID:        "worker-a",
		Hostname:        "host-a",
		ProcessID:       1,
		SourceFactories: sourceFactories,
	}
}

func TestWorker_ClaimsProcessesAndEnqueuesLinks(t *testing.T) {
	fake := storetest.New()
	src := &stubSource{name: "docs", seed: []string{"a"}, docs: map[string][]byte{"a": []byte("hello"), "b": []byte("world")}}
	factories := map[string]registry.SourceFactory{
		"stub": func(params map[string]string) (pipeline.ContentSource, error) { return src, nil },
	}

	w := New(Config{WorkerID: "worker-a", PipelineConcurrency: 1}, fake, stubPipeline{},
		Sources{"docs": src}, noopDetector{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, testAttachOptions(factories)) }()

	require.Eventually(t, func() bool {
		items := fake.Items()
		if len(items) < 2 {
			return false
		}
		all := true
		for _, it := range items {
			all = all && it.Status == model.ItemCompleted
		}
		return all
	}, 400*time.Millisecond, 10*time.Millisecond, "both the seeded doc and its discovered link should complete")

	cancel()
	require.NoError(t, <-done)

	items := fake.Items()
	var sawParent, sawChild bool
	for _, it := range items {
		switch it.DocID {
		case "a":
			sawParent = true
			assert.Equal(t, model.SourceConfigured, it.SourceType)
		case "b":
			sawChild = true
			assert.Equal(t, model.SourceLinked, it.SourceType)
			assert.Equal(t, 4, it.Priority, "linked item inherits parent.priority - 1")
		}
	}
	assert.True(t, sawParent)
	assert.True(t, sawChild)
}

func TestWorker_PermanentFailureWhenSourceMissing(t *testing.T) {
	fake := storetest.New()
	src := &stubSource{name: "docs", seed: []string{"a"}, docs: map[string][]byte{"a": []byte("hello")}}
	factories := map[string]registry.SourceFactory{
		"stub": func(params map[string]string) (pipeline.ContentSource, error) { return src, nil },
	}

	// Sources map deliberately omits "docs" so every claimed item fails
	// permanently with no registered content source.
	w := New(Config{WorkerID: "worker-a", PipelineConcurrency: 1}, fake, stubPipeline{},
		Sources{}, noopDetector{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, testAttachOptions(factories)) }()

	require.Eventually(t, func() bool {
		items := fake.Items()
		if len(items) == 0 {
			return false
		}
		for _, it := range items {
			if it.Status != model.ItemFailed {
				return false
			}
		}
		return true
	}, 250*time.Millisecond, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_LeavePersistsStoppedStatusAndLeftAt(t *testing.T) {
	fake := storetest.New()
	w := New(Config{WorkerID: "worker-a"}, fake, stubPipeline{}, Sources{}, noopDetector{}, nil)
	w.runID = "run1"

	_, err := fake.CreateOrAttachRun(context.Background(), "run1", "hash1", model.ConfigSnapshot{})
	require.NoError(t, err)
	_, err = fake.RegisterWorker(context.Background(), model.Worker{RunID: "run1", WorkerID: "worker-a", Hostname: "host-a"})
	require.NoError(t, err)

	w.leave(context.Background())

	worker, ok := fake.Workers()["run1/worker-a"]
	require.True(t, ok)
	assert.Equal(t, model.WorkerStopped, worker.Status)
	require.NotNil(t, worker.LeftAt)
}

// TestWorker_PermanentSourceFailureSkipsRetryButGoodDocCompletes covers a
// source yielding one fetchable document and one permanently missing
// document: the missing one must fail immediately, without retry, and the
// good one must still complete normally.
func TestWorker_PermanentSourceFailureSkipsRetryButGoodDocCompletes(t *testing.T) {
	fake := storetest.New()
	src := &stubSource{
		name: "docs",
		seed: []string{"good", "missing"},
		docs: map[string][]byte{"good": []byte("hello")},
		fetchErr: map[string]error{
			"missing": fmt.Errorf("%w: pipeline: fetch missing: status 404", cerrors.ErrPermanentSource),
		},
	}
	factories := map[string]registry.SourceFactory{
		"stub": func(params map[string]string) (pipeline.ContentSource, error) { return src, nil },
	}

	w := New(Config{WorkerID: "worker-a", PipelineConcurrency: 1}, fake, stubPipeline{},
		Sources{"docs": src}, noopDetector{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, testAttachOptions(factories)) }()

	require.Eventually(t, func() bool {
		items := fake.Items()
		if len(items) < 2 {
			return false
		}
		for _, it := range items {
			if it.Status != model.ItemCompleted && it.Status != model.ItemFailed {
				return false
			}
		}
		return true
	}, 400*time.Millisecond, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	var sawGood, sawMissing bool
	for _, it := range fake.Items() {
		switch it.DocID {
		case "good":
			sawGood = true
			assert.Equal(t, model.ItemCompleted, it.Status)
		case "missing":
			sawMissing = true
			assert.Equal(t, model.ItemFailed, it.Status)
			assert.Equal(t, 0, it.RetryCount, "a permanent failure must not be retried")
		}
	}
	assert.True(t, sawGood)
	assert.True(t, sawMissing)
}
