// Package model defines the persistent entities shared by every coordination
// component: Run, QueueItem, Worker, and DocumentDependency.
package model

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunActive             RunStatus = "active"
	RunProcessingComplete RunStatus = "processing_complete"
	RunPostProcessing     RunStatus = "post_processing"
	RunCompleted          RunStatus = "completed"
	RunFailed             RunStatus = "failed"
	RunAbandoned          RunStatus = "abandoned"
)

// Terminal reports whether status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunAbandoned:
		return true
	default:
		return false
	}
}

// SourceType classifies how a QueueItem entered the queue.
type SourceType string

const (
	SourceConfigured SourceType = "configured"
	SourceLinked     SourceType = "linked"
	SourceDiscovered SourceType = "discovered"
)

// ItemStatus is the lifecycle state of a QueueItem.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemRetry      ItemStatus = "retry"
)

// LinkType classifies a DocumentDependency edge.
type LinkType string

const (
	LinkExplicit   LinkType = "explicit"
	LinkDiscovered LinkType = "discovered"
	LinkInferred   LinkType = "inferred"
)

// WorkerStatus is the lifecycle state of a Worker row.
type WorkerStatus string

const (
	WorkerActive     WorkerStatus = "active"
	WorkerIdle       WorkerStatus = "idle"
	WorkerProcessing WorkerStatus = "processing"
	WorkerStopped    WorkerStatus = "stopped"
	WorkerFailed     WorkerStatus = "failed"
)

// ConfigSnapshot is the fingerprinted subset of configuration that justifies
// run identity. Fields excluded from the fingerprint (log level, worker
// count, timeouts, UI settings) never appear here.
type ConfigSnapshot struct {
	Sources               []SourceConfig    `json:"sources"`
	EmbeddingProvider     string            `json:"embedding_provider"`
	EmbeddingModel        string            `json:"embedding_model"`
	EmbeddingDimensions   int               `json:"embedding_dimensions"`
	OntologyIDs           []string          `json:"ontology_ids"`
	OntologyVersions      map[string]string `json:"ontology_versions"`
	RelationshipDetection bool              `json:"relationship_detection"`
	StorageTarget         string            `json:"storage_target"`
}

// SourceConfig identifies one ContentSource: (name, type, canonical parameters).
type SourceConfig struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Parameters   map[string]string `json:"parameters"`
	Priority     int               `json:"priority"`
	MaxLinkDepth int               `json:"max_link_depth"`
}

// Run is one ingestion batch identified by a config fingerprint.
type Run struct {
	RunID          string
	ConfigHash     string
	ConfigSnapshot ConfigSnapshot
	Status         RunStatus

	CreatedAt                time.Time
	FirstWorkerAt            *time.Time
	LastActivityAt           time.Time
	ProcessingCompletedAt    *time.Time
	PostProcessingStartedAt  *time.Time
	PostProcessingCompletedAt *time.Time
	CompletedAt              *time.Time

	WorkerCount        int
	DocumentsQueued    int
	DocumentsProcessed int
	DocumentsFailed    int
	DocumentsRetried   int

	LeaderWorkerID      *string
	LeaderElectedAt     *time.Time
	LeaderHeartbeat     *time.Time
	LeaderLeaseExpires  *time.Time

	PostProcessingError *string
}

// QueueItem is one (run, document, source) unit of work.
type QueueItem struct {
	QueueID    int64
	RunID      string
	DocID      string
	SourceName string
	SourceType SourceType
	Status     ItemStatus

	WorkerID    *string
	ClaimedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time

	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	ErrorDetails  map[string]any

	ParentDocID  *string
	LinkDepth    int
	MaxLinkDepth int

	ContentHash  string
	LastModified *time.Time
	FileSize     int64

	Priority     int
	ScheduledFor time.Time

	RequiredCapabilities []string
}

// Worker is one (run, worker) registration.
type Worker struct {
	RunID    string
	WorkerID string

	JoinedAt      time.Time
	LastHeartbeat time.Time
	LeftAt        *time.Time

	Status WorkerStatus

	DocumentsClaimed      int
	DocumentsProcessed    int
	DocumentsFailed       int
	ProcessingTimeSeconds float64

	Hostname     string
	ProcessID    int
	Version      string
	Capabilities map[string]bool
}

// DocumentDependency is one edge in the link graph.
type DocumentDependency struct {
	RunID              string
	ParentDocID        string
	ChildDocID         string
	SourceName         string
	LinkType           LinkType
	LinkDepth          int
	DiscoveredAt       time.Time
	DiscoveredByWorker string
}

// QueueSummary is the per-status count returned by summarize_queue.
type QueueSummary struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Retry      int
}

// Drained reports whether the queue has no outstanding or in-flight work.
func (s QueueSummary) Drained() bool {
	return s.Pending == 0 && s.Processing == 0 && s.Retry == 0
}
