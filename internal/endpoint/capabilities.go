package endpoint

import "context"

// MetadataCapable endpoints can run catalog collectors.
type MetadataCapable interface {
	ProbeEnvironment(ctx context.Context, config map[string]any) (*Environment, error)
	CollectMetadata(ctx context.Context, env *Environment) (*CatalogSnapshot, error)
}

// IncrementalCapable endpoints support incremental reads.
type IncrementalCapable interface {
	GetCheckpoint(ctx context.Context, datasetID string) (map[string]any, error)
}

// SliceCapable endpoints can plan bounded slices for parallel/adaptive reads.
type SliceCapable interface {
	IncrementalCapable

	PlanSlices(ctx context.Context, req *PlanRequest) (*IngestionPlan, error)
	ReadSlice(ctx context.Context, req *SliceReadRequest) (Iterator[Record], error)
	CountBetween(ctx context.Context, datasetID, lower, upper string) (int64, error)
}

// AdaptiveCapable endpoints can probe row/byte estimates before planning.
type AdaptiveCapable interface {
	ProbeIngestion(ctx context.Context, datasetID string, checkpoint map[string]any) (*ProbeResult, error)
}

// StagingCapable sinks support incremental staging ahead of a commit.
type StagingCapable interface {
	StageSlice(ctx context.Context, req *StageRequest) (*StageResult, error)
	CommitIncremental(ctx context.Context, req *CommitRequest) (*CommitResult, error)
}

// VectorProfileProvider endpoints can pre-normalize a record for indexing.
type VectorProfileProvider interface {
	NormalizeForIndex(ctx context.Context, rec Record) (*VectorCandidate, error)
}

// MultiRecordVectorProfileProvider produces zero or more vector candidates
// from a single record (e.g. a document split into chunks).
type MultiRecordVectorProfileProvider interface {
	NormalizeForIndexMulti(ctx context.Context, rec Record) ([]*VectorCandidate, error)
}

// MentionExtractor endpoints can surface entity mentions within a record.
type MentionExtractor interface {
	ExtractMentions(ctx context.Context, rec Record) ([]string, error)
}

// RelationExtractor endpoints can surface relations between entities.
type RelationExtractor interface {
	ExtractRelations(ctx context.Context, rec Record) ([]Relation, error)
}

// Relation is a directed edge candidate discovered by a RelationExtractor.
type Relation struct {
	FromID string
	ToID   string
	Type   string
}

// EntityMapper endpoints can map a raw record onto a CDM entity.
type EntityMapper interface {
	MapToCDM(ctx context.Context, rec Record) (Record, error)
}

// EntityResolver endpoints can resolve a logical entity reference to a
// canonical one (deduplication across sources).
type EntityResolver interface {
	ResolveEntity(ctx context.Context, ref string) (string, error)
}

// RelationEventProcessor endpoints can react to relation change events.
type RelationEventProcessor interface {
	ProcessRelationEvent(ctx context.Context, evt Relation) error
}

// --- Supporting types for MetadataCapable ---

// Environment captures server/version/context data gathered during a probe.
type Environment struct {
	Version    string
	Properties map[string]any
}

// CatalogSnapshot is a point-in-time listing of datasets available on an
// endpoint, produced by CollectMetadata.
type CatalogSnapshot struct {
	Datasets []*DatasetMetadata
}

// DatasetMetadata describes one cataloged dataset.
type DatasetMetadata struct {
	ID     string
	Name   string
	Schema *Schema
}

// StageRequest/StageResult/CommitRequest/CommitResult model a staging sink's
// stage-then-commit write protocol.
type StageRequest struct {
	DatasetID string
	Slice     *IngestionSlice
	Records   []Record
}

type StageResult struct {
	Path    string
	Rows    int64
	Skipped bool
}

type CommitRequest struct {
	DatasetID    string
	StagedSlices []*StageResult
}

type CommitResult struct {
	Rows         int64
	NewWatermark string
}
