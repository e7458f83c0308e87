package pipeline

import "context"

// NoopPipeline satisfies DocumentPipeline by recording only the fetched
// content's hash, with no elements, entities, or outbound links. It is the
// default wired into cmd/docingest so the worker loop is runnable without a
// real parse/extract/embed pipeline attached; production deployments
// replace it with their own DocumentPipeline implementation.
type NoopPipeline struct{}

func (NoopPipeline) Process(ctx context.Context, docID string, content Content, meta DocMeta) (ProcessResult, error) {
	return ProcessResult{ContentHash: content.ContentHash}, nil
}

// NoopRelationshipDetector satisfies RelationshipDetector by doing nothing
// and reporting zero relationships written. cmd/docingest wires it in for
// every run; the relationship_detection setting does not select a
// different detector.
type NoopRelationshipDetector struct{}

func (NoopRelationshipDetector) Detect(ctx context.Context, runID string) (RelationshipSummary, error) {
	return RelationshipSummary{}, nil
}
