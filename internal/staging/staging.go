// Package staging implements the batched, content-addressed write-ahead
// layer that sits between the Ingestion Runner and every downstream
// consumer (Indexer, Cluster Builder, Signal Engine, Insight Extractor).
package staging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
)

const (
	ProviderMemory      = "memory"
	ProviderObjectStore = "object"

	// DefaultMemoryCapBytes bounds the in-memory provider.
	DefaultMemoryCapBytes int64 = 2 * 1024 * 1024
)

// RecordEnvelope is the sealed message carried through staging.
type RecordEnvelope struct {
	RecordKind    string         `json:"recordKind"` // "raw" | "cdm" | "vector"
	EntityKind    string         `json:"entityKind"`
	DisplayName   string         `json:"displayName,omitempty"`
	Source        SourceRef      `json:"source"`
	TenantID      string         `json:"tenantId,omitempty"`
	ProjectKey    string         `json:"projectKey,omitempty"`
	Payload       map[string]any `json:"payload"`
	VectorPayload map[string]any `json:"vectorPayload,omitempty"`
	ObservedAt    string         `json:"observedAt,omitempty"`
}

// SourceRef describes the originating endpoint for a staged envelope.
type SourceRef struct {
	EndpointID   string `json:"endpointId,omitempty"`
	SourceFamily string `json:"sourceFamily,omitempty"`
	SourceID     string `json:"sourceId,omitempty"`
	URL          string `json:"url,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
}

// BatchStats summarizes one staged batch.
type BatchStats struct {
	Records int   `json:"records"`
	Bytes   int64 `json:"bytes"`
}

// PutBatchRequest is the staging provider input.
type PutBatchRequest struct {
	StageRef string
	StageID  string
	SliceID  string
	BatchSeq int
	Records  []RecordEnvelope
}

// PutBatchResult is returned after staging a batch.
type PutBatchResult struct {
	StageRef string
	BatchRef string
	Stats    BatchStats
}

// Provider is a pluggable staging backend (memory, object store).
type Provider interface {
	ID() string
	PutBatch(ctx context.Context, req *PutBatchRequest) (*PutBatchResult, error)
	ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error)
	GetBatch(ctx context.Context, stageRef string, batchRef string) ([]RecordEnvelope, error)
	FinalizeStage(ctx context.Context, stageRef string) error
}

// Registry holds available staging providers for selection.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry builds a registry with optional initial providers.
func NewRegistry(providers ...Provider) *Registry {
	reg := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		reg.Register(p)
	}
	return reg
}

// Register adds or replaces a provider by ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by ID.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// SelectProvider implements the selection policy: caller-supplied
// stagingProviderId always wins if registered; otherwise the choice between
// Object-store and Memory is size-based, comparing estimatedBytes against
// threshold, with Object-store preferred once the estimate crosses it (a
// batch that size would blow the Memory provider's cap anyway) and Memory
// preferred below it (cheaper, no network round trip). Either branch falls
// back to whichever provider is actually registered if its preferred choice
// is not. If the caller both names a stagingProviderId AND sets
// disableObjectStore while that ID resolves to the object-store provider,
// the combination is contradictory and is surfaced as a configuration error
// rather than silently picking a winner (Open Question, resolved in
// DESIGN.md).
func (r *Registry) SelectProvider(preferred string, disableObjectStore bool, estimatedBytes int64, threshold int64) (Provider, error) {
	if threshold <= 0 {
		threshold = DefaultMemoryCapBytes
	}

	if preferred != "" {
		p, ok := r.Get(preferred)
		if !ok {
			return nil, coreerr.New(coreerr.CodeStagingUnavailable, false, fmt.Errorf("requested staging provider %q is not registered", preferred))
		}
		if disableObjectStore && p.ID() == ProviderObjectStore {
			return nil, coreerr.New(coreerr.CodeStagingUnavailable, false, fmt.Errorf("stagingProviderId=%q conflicts with disableObjectStore=true", preferred))
		}
		return p, nil
	}

	wantObjectStore := !disableObjectStore && estimatedBytes > threshold

	if wantObjectStore {
		if p, ok := r.Get(ProviderObjectStore); ok {
			return p, nil
		}
		if p, ok := r.Get(ProviderMemory); ok {
			return p, nil
		}
	} else {
		if p, ok := r.Get(ProviderMemory); ok {
			return p, nil
		}
		if !disableObjectStore {
			if p, ok := r.Get(ProviderObjectStore); ok {
				return p, nil
			}
		}
	}

	return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, fmt.Errorf("no staging providers available"))
}

// NewStageID creates a new opaque stage identifier.
func NewStageID() string {
	return "stage-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// MakeStageRef encodes provider + stage ID into a compact ref.
func MakeStageRef(providerID, stageID string) string {
	if providerID == "" {
		providerID = ProviderMemory
	}
	return providerID + ":" + stageID
}

// ParseStageRef splits a stageRef into provider and stage ID.
func ParseStageRef(stageRef string) (providerID, stageID string) {
	parts := strings.SplitN(stageRef, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", stageRef
}

func resolveStageID(stageRef, stageID string) string {
	if stageRef != "" {
		if _, id := ParseStageRef(stageRef); id != "" {
			return id
		}
	}
	return stageID
}

// batchKey creates a deterministic, lexicographically-increasing batch ref
// within a (stage, slice).
func batchKey(sliceID string, seq int) string {
	if sliceID == "" {
		sliceID = "slice"
	}
	return fmt.Sprintf("%s-%06d", sliceID, seq)
}
