// Package vectorstore defines the canonical normalized-document contract the
// Indexer and Cluster Builder both depend on, plus the store interface a
// pgvector (or other embedding-capable) backend implements.
package vectorstore

import (
	"context"
	"time"
)

// Entry is a normalized vector document ready for embedding/indexing.
type Entry struct {
	TenantID       string
	ProjectID      string
	ProfileID      string
	NodeID         string
	SourceFamily   string
	ArtifactID     string
	RunID          string
	SinkEndpointID string
	DatasetSlug    string
	EntityKind     string
	Labels         []string
	Tags           []string
	ContentText    string
	Metadata       map[string]any
	RawPayload     map[string]any
	RawMetadata    map[string]any
	Embedding      []float32
	UpdatedAt      *time.Time
}

// QueryFilter scopes a similarity search or a recency listing.
type QueryFilter struct {
	TenantID       string
	ProjectID      string
	ProfileIDs     []string
	SourceFamily   string
	ArtifactID     string
	RunID          string
	SinkEndpointID string
	DatasetSlug    string
	EntityKinds    []string
	Labels         []string
	Tags           []string
	MetadataEQ     map[string]any
	SinceUpdatedAt *time.Time
	Limit          int
}

// SearchResult is one similarity match.
type SearchResult struct {
	NodeID      string
	ProfileID   string
	Score       float32
	ContentText string
	Metadata    map[string]any
	RawMetadata map[string]any
	RawPayload  map[string]any
}

// Store is the minimal contract a vector backend must satisfy.
type Store interface {
	UpsertEntries(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, embedding []float32, filter QueryFilter, topK int) ([]SearchResult, error)
	DeleteByArtifact(ctx context.Context, tenantID, artifactID, runID string) error
	ListEntries(ctx context.Context, filter QueryFilter, limit int) ([]Entry, error)
}
