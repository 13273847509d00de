// Package registryclient reports operation outcomes back to the metadata
// registry's materialized_artifacts table. Every write here is best-effort:
// a registry outage must never fail an ingestion operation, it only means
// the UI/CLI won't see fresh status until the registry recovers.
package registryclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Artifact is the subset of materialized_artifacts columns callers need.
type Artifact struct {
	ID             string
	TenantID       string
	SourceFamily   string
	SinkEndpointID string
	Handle         map[string]any
}

// RunSummary is the registry's view of one artifact's last pipeline pass,
// assembled from the JSONB index_counters column.
type RunSummary struct {
	ArtifactID      string
	TenantID        string
	SourceFamily    string
	SinkEndpointID  string
	VersionHash     string
	NodesTouched    int64
	EdgesTouched    int64
	CacheHits       int64
	LogEventsPath   string
	LogSnapshotPath string
}

// DiffResult compares two artifacts' run summaries.
type DiffResult struct {
	Left          *RunSummary
	Right         *RunSummary
	VersionEqual  bool
	Notes         string
	LogEventsPath string
	CountersDelta map[string]int64
}

// Client talks to the metadata registry's Postgres database. A nil *Client
// (or one built against an unset DSN) is valid and makes every method a
// no-op, so callers never need a separate "is the registry configured"
// check.
type Client struct {
	db *sql.DB
}

// NewFromEnv opens a registry client using METADATA_DATABASE_URL (falling
// back to DATABASE_URL). Returns (nil, nil) when neither is set, signaling
// "registry reporting disabled" rather than an error.
func NewFromEnv() (*Client, error) {
	dsn := os.Getenv("METADATA_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Client{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// MarkIndexing flips an artifact into the INDEXING state at the start of a
// pipeline pass.
func (c *Client) MarkIndexing(ctx context.Context, artifactID string) {
	if c == nil || c.db == nil || artifactID == "" {
		return
	}
	_, _ = c.db.ExecContext(ctx, `
UPDATE metadata.materialized_artifacts
SET status='INDEXING', index_status='INDEXING', index_last_error=NULL, updated_at=now()
WHERE id=$1`, artifactID)
}

// MarkIndexed records a successful indexing pass and its counters.
func (c *Client) MarkIndexed(ctx context.Context, artifactID string, counters map[string]any) {
	if c == nil || c.db == nil || artifactID == "" {
		return
	}
	payload, _ := json.Marshal(counters)
	_, _ = c.db.ExecContext(ctx, `
UPDATE metadata.materialized_artifacts
SET status='INDEXED', index_status='INDEXED', index_counters=$2::jsonb, index_last_error=NULL, updated_at=now()
WHERE id=$1`, artifactID, payload)
}

// MarkIndexFailed records a failed indexing pass.
func (c *Client) MarkIndexFailed(ctx context.Context, artifactID string, lastError any) {
	if c == nil || c.db == nil || artifactID == "" {
		return
	}
	payload, _ := json.Marshal(lastError)
	_, _ = c.db.ExecContext(ctx, `
UPDATE metadata.materialized_artifacts
SET status='FAILED', index_status='FAILED', index_last_error=$2::jsonb, updated_at=now()
WHERE id=$1`, artifactID, payload)
}

// MarkClustered merges clustering counters into an artifact's existing
// index_counters JSONB, preserving whatever indexing stats are already
// there rather than overwriting them.
func (c *Client) MarkClustered(ctx context.Context, artifactID string, counters map[string]any) {
	if c == nil || c.db == nil || artifactID == "" {
		return
	}
	payload, _ := json.Marshal(counters)
	_, _ = c.db.ExecContext(ctx, `
UPDATE metadata.materialized_artifacts
SET index_counters = COALESCE(index_counters, '{}'::jsonb) || $2::jsonb,
    updated_at = now()
WHERE id = $1`, artifactID, payload)
}

// GetArtifact loads one materialized_artifacts row.
func (c *Client) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	if c == nil || c.db == nil || artifactID == "" {
		return nil, fmt.Errorf("artifactID is required")
	}
	row := c.db.QueryRowContext(ctx, `
SELECT id, tenant_id, source_family, sink_endpoint_id, handle
FROM metadata.materialized_artifacts
WHERE id=$1`, artifactID)
	var art Artifact
	var handleBytes []byte
	if err := row.Scan(&art.ID, &art.TenantID, &art.SourceFamily, &art.SinkEndpointID, &handleBytes); err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	if len(handleBytes) > 0 {
		_ = json.Unmarshal(handleBytes, &art.Handle)
	}
	return &art, nil
}

// GetRunSummary reads index_counters for an artifact and reshapes it into a
// RunSummary for UI/CLI consumption.
func (c *Client) GetRunSummary(ctx context.Context, artifactID string) (*RunSummary, error) {
	if c == nil || c.db == nil || artifactID == "" {
		return nil, fmt.Errorf("artifactID is required")
	}
	row := c.db.QueryRowContext(ctx, `
SELECT tenant_id, source_family, sink_endpoint_id, index_counters
FROM metadata.materialized_artifacts
WHERE id=$1`, artifactID)
	var tenantID, sourceFamily, sinkID string
	var countersBytes []byte
	if err := row.Scan(&tenantID, &sourceFamily, &sinkID, &countersBytes); err != nil {
		return nil, fmt.Errorf("get run summary: %w", err)
	}
	out := &RunSummary{
		ArtifactID:     artifactID,
		TenantID:       tenantID,
		SourceFamily:   sourceFamily,
		SinkEndpointID: sinkID,
	}
	parseRunSummaryCounters(out, countersBytes)
	return out, nil
}

func parseRunSummaryCounters(out *RunSummary, countersBytes []byte) {
	if len(countersBytes) == 0 {
		return
	}
	var counters map[string]any
	if err := json.Unmarshal(countersBytes, &counters); err != nil {
		return
	}
	out.VersionHash, _ = counters["versionHash"].(string)
	out.LogEventsPath, _ = counters["logEventsPath"].(string)
	out.LogSnapshotPath, _ = counters["logSnapshotPath"].(string)
	if v, ok := counters["nodesTouched"].(float64); ok {
		out.NodesTouched = int64(v)
	}
	if v, ok := counters["edgesTouched"].(float64); ok {
		out.EdgesTouched = int64(v)
	}
	if v, ok := counters["cacheHits"].(float64); ok {
		out.CacheHits = int64(v)
	}
}

// DiffRunSummaries compares two artifacts' last run summaries. Equality is
// decided by versionHash alone; counter deltas are informational and never
// flip VersionEqual, matching the registry's own semantics where the hash
// is the thing downstream systems actually key replay decisions on.
func (c *Client) DiffRunSummaries(ctx context.Context, leftArtifactID, rightArtifactID string) (*DiffResult, error) {
	left, err := c.GetRunSummary(ctx, leftArtifactID)
	if err != nil {
		return nil, fmt.Errorf("left summary: %w", err)
	}
	right, err := c.GetRunSummary(ctx, rightArtifactID)
	if err != nil {
		return nil, fmt.Errorf("right summary: %w", err)
	}

	result := &DiffResult{
		Left:  left,
		Right: right,
		CountersDelta: map[string]int64{
			"nodesTouched": right.NodesTouched - left.NodesTouched,
			"edgesTouched": right.EdgesTouched - left.EdgesTouched,
			"cacheHits":    right.CacheHits - left.CacheHits,
		},
	}
	result.VersionEqual = left.VersionHash != "" && right.VersionHash != "" && left.VersionHash == right.VersionHash
	if result.VersionEqual {
		result.Notes = "versionHash matches; no replay needed"
	} else {
		result.Notes = "versionHash differs; replay logs to inspect changes"
		if right.LogEventsPath != "" {
			result.LogEventsPath = right.LogEventsPath
		} else {
			result.LogEventsPath = left.LogEventsPath
		}
	}
	return result, nil
}
