package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/fingerprint"
	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/pipeline"
	"github.com/evalgo-org/docingest/internal/storetest"
)

func testConfig(dir string) fingerprint.Input {
	return fingerprint.Input{
		Sources: []fingerprint.Source{
			{Name: "docs", Type: "filesystem", Parameters: map[string]string{"path": dir}},
		},
		StorageTarget: "postgres://artifacts",
	}
}

func filesystemFactories(dir string) map[string]SourceFactory {
	return map[string]SourceFactory{
		"filesystem": func(params map[string]string) (pipeline.ContentSource, error) {
			return pipeline.NewFileSystemContentSource("docs", dir), nil
		},
	}
}

func TestAttach_FirstJoinSeedsQueue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d1.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d2.txt"), []byte("y"), 0o644))

	fake := storetest.New()
	reg := New(fake)

	role, err := reg.Attach(context.Background(), AttachOptions{
		Config:          testConfig(dir),
		WorkerID:        "worker-a",
		SourceFactories: filesystemFactories(dir),
	})
	require.NoError(t, err)
	assert.True(t, role.JoinedFirst)
	assert.NotEmpty(t, role.RunID)

	items := fake.Items()
	assert.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, model.ItemPending, it.Status)
		assert.Equal(t, model.SourceConfigured, it.SourceType)
	}
}

func TestAttach_SecondJoinerDoesNotReseed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d1.txt"), []byte("x"), 0o644))

	fake := storetest.New()
	reg := New(fake)
	ctx := context.Background()

	roleA, err := reg.Attach(ctx, AttachOptions{
		Config: testConfig(dir), WorkerID: "worker-a", SourceFactories: filesystemFactories(dir),
	})
	require.NoError(t, err)

	roleB, err := reg.Attach(ctx, AttachOptions{
		Config: testConfig(dir), WorkerID: "worker-b", SourceFactories: filesystemFactories(dir),
	})
	require.NoError(t, err)

	assert.Equal(t, roleA.RunID, roleB.RunID)
	assert.False(t, roleB.JoinedFirst)
	assert.Len(t, fake.Items(), 1)
}

func TestAttach_TerminalRunRejected(t *testing.T) {
	dir := t.TempDir()
	fake := storetest.New()
	reg := New(fake)
	ctx := context.Background()

	fp, err := fingerprint.Compute(testConfig(dir))
	require.NoError(t, err)
	_, err = fake.CreateOrAttachRun(ctx, fp.RunID, fp.ConfigHash, model.ConfigSnapshot{})
	require.NoError(t, err)
	_, err = fake.TransitionRun(ctx, fp.RunID, model.RunActive, model.RunFailed, "")
	require.NoError(t, err)

	_, err = reg.Attach(ctx, AttachOptions{
		Config: testConfig(dir), WorkerID: "worker-a", SourceFactories: filesystemFactories(dir),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrRunTerminal))
}
