package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

// HTTPContentSource crawls a single seed URL, treating it as the sole
// document the coordinator knows about a priori; further documents surface
// only through link discovery during pipeline processing. It is a
// reference collaborator alongside FileSystemContentSource.
type HTTPContentSource struct {
	name    string
	seedURL string
	client  *http.Client
}

// NewHTTPContentSource returns a source that enumerates only seedURL.
func NewHTTPContentSource(name, seedURL string) *HTTPContentSource {
	return &HTTPContentSource{
		name:    name,
		seedURL: seedURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPContentSource) Name() string { return s.name }
func (s *HTTPContentSource) Type() string { return "http" }

// Enumerate yields exactly one DocMeta for the seed URL.
func (s *HTTPContentSource) Enumerate(ctx context.Context) (<-chan DocMeta, <-chan error) {
	metaCh := make(chan DocMeta, 1)
	errCh := make(chan error, 1)

	metaCh <- DocMeta{DocID: s.seedURL}
	close(metaCh)
	close(errCh)
	return metaCh, errCh
}

// Fetch retrieves docID (expected to be an absolute URL reached via a link)
// over HTTP and hashes the body.
func (s *HTTPContentSource) Fetch(ctx context.Context, docID string) (Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docID, nil)
	if err != nil {
		return Content{}, fmt.Errorf("pipeline: build request for %s: %w", docID, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("pipeline: fetch %s: %w", docID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("pipeline: fetch %s: status %d", docID, resp.StatusCode)
		if resp.StatusCode < 500 {
			// Not found, unauthorized, or malformed request: retrying
			// would hit the same response every time.
			return Content{}, fmt.Errorf("%w: %v", cerrors.ErrPermanentSource, err)
		}
		return Content{}, err
	}

	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(resp.Body, h))
	if err != nil {
		return Content{}, fmt.Errorf("pipeline: read body for %s: %w", docID, err)
	}

	return Content{
		Bytes:        data,
		ContentHash:  hex.EncodeToString(h.Sum(nil)),
		LastModified: time.Now(),
		Size:         int64(len(data)),
	}, nil
}
