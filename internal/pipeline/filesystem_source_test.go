package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

func TestFileSystemContentSource_EnumerateAndFetch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.txt"), []byte("world"), 0o644))

	src := NewFileSystemContentSource("docs", dir)
	assert.Equal(t, "docs", src.Name())
	assert.Equal(t, "filesystem", src.Type())

	metaCh, errCh := src.Enumerate(context.Background())
	var ids []string
	for m := range metaCh {
		ids = append(ids, m.DocID)
	}
	require.NoError(t, <-errCh)
	assert.ElementsMatch(t, []string{"a.txt", filepath.Join("nested", "b.txt")}, ids)

	content, err := src.Fetch(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content.Bytes)
	assert.NotEmpty(t, content.ContentHash)
}

func TestFileSystemContentSource_FetchClassifiesMissingFileAsPermanent(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSystemContentSource("docs", dir)

	_, err := src.Fetch(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrPermanentSource), "a missing file should never be retried")
}
