package registryclient

import (
	"context"
	"testing"
)

func TestNilClient_MethodsAreNoOps(t *testing.T) {
	var c *Client
	ctx := context.Background()

	c.MarkIndexing(ctx, "artifact-1")
	c.MarkIndexed(ctx, "artifact-1", map[string]any{"nodesTouched": 3})
	c.MarkIndexFailed(ctx, "artifact-1", "boom")
	c.MarkClustered(ctx, "artifact-1", map[string]any{"clustersCreated": 2})

	if err := c.Close(); err != nil {
		t.Errorf("expected Close on a nil client to be a no-op, got %v", err)
	}

	if _, err := c.GetArtifact(ctx, "artifact-1"); err == nil {
		t.Error("expected GetArtifact on a nil client to error rather than panic")
	}
	if _, err := c.GetRunSummary(ctx, "artifact-1"); err == nil {
		t.Error("expected GetRunSummary on a nil client to error rather than panic")
	}
}

func TestNewFromEnv_ReturnsNilWhenNoDSNConfigured(t *testing.T) {
	t.Setenv("METADATA_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")

	c, err := NewFromEnv()
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	if c != nil {
		t.Error("expected a nil client when no DSN env var is set")
	}
}

func TestParseRunSummaryCounters_ExtractsKnownFields(t *testing.T) {
	out := &RunSummary{}
	parseRunSummaryCounters(out, []byte(`{"versionHash":"abc123","nodesTouched":5,"edgesTouched":2,"cacheHits":1,"logEventsPath":"s3://bucket/events"}`))

	if out.VersionHash != "abc123" {
		t.Errorf("VersionHash = %q, want abc123", out.VersionHash)
	}
	if out.NodesTouched != 5 || out.EdgesTouched != 2 || out.CacheHits != 1 {
		t.Errorf("unexpected counters: %+v", out)
	}
	if out.LogEventsPath != "s3://bucket/events" {
		t.Errorf("LogEventsPath = %q", out.LogEventsPath)
	}
}

func TestParseRunSummaryCounters_IgnoresMalformedJSON(t *testing.T) {
	out := &RunSummary{}
	parseRunSummaryCounters(out, []byte(`not json`))
	if out.VersionHash != "" {
		t.Error("expected malformed JSON to leave the summary untouched")
	}
}
