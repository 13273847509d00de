// Package signal evaluates signal definitions (code, DSL-configured, or
// insight-backed) against ingested records, reconciles the resulting
// instances against what's already open, and reflects both into the
// knowledge graph.
package signal

import "context"

// Definition is one signal rule: either implemented in code (ImplMode
// "CODE", evaluated unconditionally via buildInstance) or driven by a
// versioned DSL config carried in DefinitionSpec.
type Definition struct {
	ID             string
	Slug           string
	Title          string
	Description    string
	Status         string
	ImplMode       string
	SourceFamily   string
	EntityKind     string
	Severity       string
	Tags           []string
	DefinitionSpec map[string]any
}

// Instance is one open (or resolved) occurrence of a Definition against a
// specific entity.
type Instance struct {
	ID           string
	DefinitionID string
	Status       string
	EntityRef    string
	EntityKind   string
	Severity     string
	Summary      string
	Details      map[string]any
	SourceRunID  string
}

// Store is the persistence surface the signal engine depends on.
// Implemented by pkg/signalstore against Postgres.
type Store interface {
	ListDefinitions(ctx context.Context, sourceFamily string) ([]*Definition, error)
	UpsertDefinition(ctx context.Context, def *Definition) (string, error)
	ListInstances(ctx context.Context, definitionID string) ([]*Instance, error)
	UpsertInstance(ctx context.Context, inst *Instance) error
	UpdateInstanceStatus(ctx context.Context, definitionID, entityRef, status string) error
}

// Node is the subset of knowledge-graph node fields the signal engine
// writes.
type Node struct {
	ID         string
	Type       string
	Properties map[string]string
}

// Edge is the subset of knowledge-graph edge fields the signal engine
// writes.
type Edge struct {
	ID         string
	Type       string
	FromID     string
	ToID       string
	Properties map[string]string
}

// KGClient is the minimal knowledge-graph write surface the signal engine
// depends on. Implemented by pkg/kgclient against the KG gRPC service.
type KGClient interface {
	UpsertNode(ctx context.Context, tenantID, projectID string, node Node) error
	UpsertEdge(ctx context.Context, tenantID, projectID string, edge Edge) error
}
