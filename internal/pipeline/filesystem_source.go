package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

// FileSystemContentSource enumerates a local directory tree. It exists so
// the coordinator is runnable end-to-end without a production connector; it
// is a reference collaborator, not core-scope parsing logic.
type FileSystemContentSource struct {
	name string
	root string
}

// NewFileSystemContentSource returns a source rooted at root, identified by
// name for fingerprinting and logging.
func NewFileSystemContentSource(name, root string) *FileSystemContentSource {
	return &FileSystemContentSource{name: name, root: root}
}

func (s *FileSystemContentSource) Name() string { return s.name }
func (s *FileSystemContentSource) Type() string { return "filesystem" }

// Enumerate walks the tree once and closes both channels when done or on
// the first error.
func (s *FileSystemContentSource) Enumerate(ctx context.Context) (<-chan DocMeta, <-chan error) {
	metaCh := make(chan DocMeta)
	errCh := make(chan error, 1)

	go func() {
		defer close(metaCh)
		defer close(errCh)

		err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			select {
			case metaCh <- DocMeta{DocID: rel, LastModified: info.ModTime(), Size: info.Size()}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errCh <- err
		}
	}()

	return metaCh, errCh
}

// Fetch reads the file at docID relative to root and hashes its contents.
func (s *FileSystemContentSource) Fetch(ctx context.Context, docID string) (Content, error) {
	path := filepath.Join(s.root, docID)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Content{}, fmt.Errorf("%w: pipeline: stat %s: %v", cerrors.ErrPermanentSource, docID, err)
		}
		return Content{}, fmt.Errorf("pipeline: stat %s: %w", docID, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return Content{}, fmt.Errorf("pipeline: open %s: %w", docID, err)
	}
	defer f.Close()

	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		return Content{}, fmt.Errorf("pipeline: read %s: %w", docID, err)
	}

	return Content{
		Bytes:        data,
		ContentHash:  hex.EncodeToString(h.Sum(nil)),
		LastModified: info.ModTime(),
		Size:         info.Size(),
	}, nil
}
