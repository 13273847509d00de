package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint/mockendpoint"
	"github.com/nucleus-metadata/ingest-core/internal/insight"
	"github.com/nucleus-metadata/ingest-core/internal/operation"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
)

type noopKV struct{}

func (noopKV) Get(ctx context.Context, tenantID, projectID, key string) ([]byte, int64, bool, error) {
	return nil, 0, false, nil
}
func (noopKV) Put(ctx context.Context, tenantID, projectID, key string, value []byte, expectedVersion int64) error {
	return nil
}

func TestDispatcher_FallsBackToManagerWithoutTemporalClient(t *testing.T) {
	endpoints := endpoint.NewRegistry()
	endpoints.Register("mock.source", mockendpoint.NewSource)

	mgr := operation.NewManager(operation.Dependencies{
		Endpoints:     endpoints,
		Staging:       staging.NewRegistry(staging.NewMemoryProvider(staging.DefaultMemoryCapBytes)),
		Checkpoint:    checkpoint.NewStore(noopKV{}),
		CheckpointKV:  noopKV{},
		InsightSkills: insight.NewRegistry(""),
	})

	d := NewDispatcher(mgr, nil)

	state, err := d.Start(context.Background(), &operation.StartRequest{
		IdempotencyKey: "dispatch-test-1",
		TemplateID:     "mock.source",
		TenantID:       "tenant-a",
		ProjectID:      "proj-1",
		DatasetSlug:    "issues",
		SourceFamily:   "github",
		Parameters:     map[string]any{"records": []endpoint.Record{{"id": "1"}}},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.Status != operation.StatusQueued {
		t.Fatalf("expected QUEUED, got %s", state.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err = mgr.Get(context.Background(), state.OperationID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if state.Status == operation.StatusSucceeded || state.Status == operation.StatusFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if state.Status != operation.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s: %s)", state.Status, state.ErrorCode, state.ErrorMsg)
	}
}
