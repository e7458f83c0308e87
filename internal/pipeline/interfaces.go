// Package pipeline defines the external collaborator contracts the core
// treats as pure functions over a document: ContentSource, DocumentPipeline,
// RelationshipDetector, and ArtifactStore. The coordination core never
// inspects their internals.
package pipeline

import (
	"context"
	"time"
)

// DocMeta is the metadata a ContentSource yields for one document without
// fetching its bytes.
type DocMeta struct {
	DocID        string
	LastModified time.Time
	Size         int64
}

// OutboundLink is one edge discovered by DocumentPipeline.Process.
type OutboundLink struct {
	ChildDocID string
	SourceName string
}

// Content is the result of ContentSource.Fetch.
type Content struct {
	Bytes        []byte
	ContentHash  string
	LastModified time.Time
	Size         int64
}

// ContentSource enumerates and fetches documents from one configured
// origin. Enumerate must be stable and finite (it may stream); its
// identity is (Name, Type, canonical parameters), not the Go type.
type ContentSource interface {
	Name() string
	Type() string
	Enumerate(ctx context.Context) (<-chan DocMeta, <-chan error)
	Fetch(ctx context.Context, docID string) (Content, error)
}

// ProcessResult is what DocumentPipeline.Process returns for one document.
type ProcessResult struct {
	Elements      []Element
	Entities      []Entity
	OutboundLinks []OutboundLink
	ContentHash   string
}

// Element is an opaque parsed unit (a paragraph, a table, a chunk) handed
// to the artifact store. The core never inspects its fields.
type Element struct {
	ID      string
	DocID   string
	Payload map[string]any
}

// Entity is an opaque extracted entity handed to the artifact store.
type Entity struct {
	ID      string
	DocID   string
	Payload map[string]any
}

// Relationship is an opaque cross-document edge produced by post-processing.
type Relationship struct {
	ID      string
	Payload map[string]any
}

// DocumentPipeline runs the full parse/extract/embed pipeline the core does
// not implement. Process must be idempotent: repeated calls with identical
// inputs produce identical artifact writes, deduplicated by ArtifactStore.
type DocumentPipeline interface {
	Process(ctx context.Context, docID string, content Content, meta DocMeta) (ProcessResult, error)
}

// RelationshipSummary reports what one RelationshipDetector.Detect call did.
type RelationshipSummary struct {
	RelationshipsWritten int
}

// RelationshipDetector runs the single post-processing phase after
// ingestion converges. Detect must be idempotent and interruption-safe:
// partial progress is acceptable, repeated full invocations converge.
type RelationshipDetector interface {
	Detect(ctx context.Context, runID string) (RelationshipSummary, error)
}

// ArtifactStore persists pipeline output. Every Put method must be
// idempotent on primary keys so duplicate writes from retried documents are
// silently deduplicated.
type ArtifactStore interface {
	PutElements(ctx context.Context, elements []Element) error
	PutEntities(ctx context.Context, entities []Entity) error
	PutRelationships(ctx context.Context, relationships []Relationship) error
}
