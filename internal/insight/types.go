// Package insight runs skill-templated LLM summarization over ingested
// records: pick a skill by source family, flatten and gate required
// params, dedup on a content signature, call an LLM (with a deterministic
// fallback), and reflect the result into the knowledge graph.
package insight

import "context"

// Skill is a YAML-defined insight template with its input schema and
// model hints.
type Skill struct {
	ID              string
	Template        string
	RequiredFields  []string
	CacheTTLSeconds int
	ModelProvider   string
	ModelName       string
	ModelTemp       float64
	MaxInsights     int
	PreferCDM       bool
}

// Summary is the headline text and the model's confidence in it.
type Summary struct {
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Sentiment is the affective read on a record.
type Sentiment struct {
	Label string   `json:"label,omitempty"`
	Score float64  `json:"score,omitempty"`
	Tones []string `json:"tones,omitempty"`
}

// Signal is one sub-observation carried alongside an Insight.
type Signal struct {
	Type     string         `json:"type,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Insight is one structured result produced for an entity.
type Insight struct {
	Provider        string         `json:"provider,omitempty"`
	PromptID        string         `json:"promptId,omitempty"`
	EntityRef       string         `json:"entityRef,omitempty"`
	GeneratedAt     string         `json:"generatedAt,omitempty"`
	Summary         Summary        `json:"summary"`
	Sentiment       Sentiment      `json:"sentiment"`
	Signals         []Signal       `json:"signals,omitempty"`
	EscalationScore float64        `json:"escalationScore,omitempty"`
	ExpiresAt       string         `json:"expiresAt,omitempty"`
	Requirement     string         `json:"requirement,omitempty"`
	WaitingOn       []string       `json:"waitingOn,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
}

// Node is the subset of knowledge-graph node fields the insight extractor
// writes.
type Node struct {
	ID         string
	Type       string
	Properties map[string]string
}

// Edge is the subset of knowledge-graph edge fields the insight extractor
// writes.
type Edge struct {
	ID     string
	Type   string
	FromID string
	ToID   string
}

// KGClient is the minimal knowledge-graph write surface the insight
// extractor depends on. Implemented by pkg/kgclient against the KG gRPC
// service.
type KGClient interface {
	UpsertNode(ctx context.Context, tenantID, projectID string, node Node) error
	UpsertEdge(ctx context.Context, tenantID, projectID string, edge Edge) error
}
