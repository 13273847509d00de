package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

// fakeKV is an in-memory CAS-capable KV double, mirroring the one in
// internal/checkpoint's own test suite.
type fakeKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	versions map[string]int64
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string][]byte{}, versions: map[string]int64{}}
}

func (f *fakeKV) fullKey(tenantID, projectID, key string) string {
	return tenantID + "/" + projectID + "/" + key
}

func (f *fakeKV) Get(ctx context.Context, tenantID, projectID, key string) ([]byte, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fk := f.fullKey(tenantID, projectID, key)
	v, ok := f.values[fk]
	if !ok {
		return nil, 0, false, nil
	}
	return v, f.versions[fk], true, nil
}

func (f *fakeKV) Put(ctx context.Context, tenantID, projectID, key string, value []byte, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fk := f.fullKey(tenantID, projectID, key)
	if f.versions[fk] != expectedVersion {
		return errConflict
	}
	f.values[fk] = value
	f.versions[fk] = expectedVersion + 1
	return nil
}

type conflictError struct{}

func (*conflictError) Error() string { return "version conflict" }

var errConflict = &conflictError{}

type fakeVectorStore struct {
	mu      sync.Mutex
	entries []vectorstore.Entry
}

func (s *fakeVectorStore) UpsertEntries(ctx context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}
func (s *fakeVectorStore) Query(ctx context.Context, embedding []float32, filter vectorstore.QueryFilter, topK int) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (s *fakeVectorStore) DeleteByArtifact(ctx context.Context, tenantID, artifactID, runID string) error {
	return nil
}
func (s *fakeVectorStore) ListEntries(ctx context.Context, filter vectorstore.QueryFilter, limit int) ([]vectorstore.Entry, error) {
	return nil, nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	tables  map[string]bool
	appends map[string][]logstore.Record
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{tables: map[string]bool{}, appends: map[string][]logstore.Record{}}
}

func (l *fakeLogStore) CreateTable(ctx context.Context, table string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[table] = true
	return nil
}
func (l *fakeLogStore) Append(ctx context.Context, table, runID string, records []logstore.Record) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends[table] = append(l.appends[table], records...)
	return "fake://" + table + "/" + runID, nil
}
func (l *fakeLogStore) WriteSnapshot(ctx context.Context, table, runID string, snapshot []byte) (string, error) {
	return "", nil
}
func (l *fakeLogStore) Prune(ctx context.Context, table string, retentionDays int) error { return nil }
func (l *fakeLogStore) ListPaths(ctx context.Context, prefix string) ([]string, error)  { return nil, nil }

func newEnvelope(id, text string) staging.RecordEnvelope {
	return staging.RecordEnvelope{
		RecordKind: "raw",
		Payload:    map[string]any{"id": id, "text": text},
	}
}

func TestRun_StagedInputEmbedsAndUpserts(t *testing.T) {
	mem := staging.NewMemoryProvider(0)
	reg := staging.NewRegistry(mem)
	ctx := context.Background()

	res, err := mem.PutBatch(ctx, &staging.PutBatchRequest{
		SliceID: "slice-1",
		Records: []staging.RecordEnvelope{newEnvelope("n1", "hello world"), newEnvelope("n2", "goodbye world")},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	cpStore := checkpoint.NewStore(newFakeKV())
	vecStore := &fakeVectorStore{}
	logs := newFakeLogStore()

	result, err := Run(ctx, reg, cpStore, vecStore, &localEmbedderStub{dim: 8}, logs, &RunRequest{
		TenantID:           "tenant-a",
		ProjectID:          "proj-1",
		SourceFamily:       "github",
		DatasetSlug:        "issues",
		RunID:              "run-1",
		StagingProviderID:  staging.ProviderMemory,
		StageRef:           res.StageRef,
		BatchRefs:          []string{res.BatchRef},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RecordsIndexed != 2 {
		t.Errorf("expected 2 records indexed, got %d", result.RecordsIndexed)
	}
	if len(vecStore.entries) != 2 {
		t.Fatalf("expected 2 entries upserted, got %d", len(vecStore.entries))
	}
	if result.NewCheckpoint["batchRef"] != res.BatchRef {
		t.Errorf("expected checkpoint to carry the last batch ref, got %v", result.NewCheckpoint["batchRef"])
	}
	if len(logs.appends[kbEventsTable]) != 2 {
		t.Errorf("expected 2 KB events emitted, got %d", len(logs.appends[kbEventsTable]))
	}
}

func TestRun_SkipsUnchangedContentOnSecondPass(t *testing.T) {
	mem := staging.NewMemoryProvider(0)
	reg := staging.NewRegistry(mem)
	ctx := context.Background()

	res, _ := mem.PutBatch(ctx, &staging.PutBatchRequest{
		SliceID: "slice-1",
		Records: []staging.RecordEnvelope{newEnvelope("n1", "stable content")},
	})

	cpStore := checkpoint.NewStore(newFakeKV())
	vecStore := &fakeVectorStore{}
	logs := newFakeLogStore()
	embedder := &localEmbedderStub{dim: 8}

	req := &RunRequest{
		TenantID:          "tenant-a",
		ProjectID:         "proj-1",
		DatasetSlug:       "issues",
		RunID:             "run-1",
		StagingProviderID: staging.ProviderMemory,
		StageRef:          res.StageRef,
		BatchRefs:         []string{res.BatchRef},
	}

	first, err := Run(ctx, reg, cpStore, vecStore, embedder, logs, req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.RecordsIndexed != 1 {
		t.Fatalf("expected 1 record indexed on first pass, got %d", first.RecordsIndexed)
	}

	second, err := Run(ctx, reg, cpStore, vecStore, embedder, logs, req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.RecordsIndexed != 0 {
		t.Errorf("expected second pass over unchanged content to skip embedding, got %d indexed", second.RecordsIndexed)
	}
	if second.Skipped != 1 {
		t.Errorf("expected 1 skipped record on second pass, got %d", second.Skipped)
	}
}

func TestResolveProfileID_PriorityOrder(t *testing.T) {
	cases := []struct {
		req  *RunRequest
		want string
	}{
		{&RunRequest{ProfileID: "explicit.v1"}, "explicit.v1"},
		{&RunRequest{CdmModelID: "cdm.issue.v1"}, "cdm.issue.v1"},
		{&RunRequest{SourceFamily: "github", DatasetSlug: "issues"}, "source.github.issues.v1"},
		{&RunRequest{SourceFamily: "github", DatasetSlug: "commits"}, "source.github.code.v1"},
		{&RunRequest{SourceFamily: "jira"}, "source.jira.issues.v1"},
		{&RunRequest{}, "source.generic.v1"},
	}
	for _, c := range cases {
		if got := resolveProfileID(c.req); got != c.want {
			t.Errorf("resolveProfileID(%+v) = %q, want %q", c.req, got, c.want)
		}
	}
}

// localEmbedderStub avoids depending on indexer's env-driven ProviderFromEnv
// selection in tests.
type localEmbedderStub struct{ dim int }

func (l *localEmbedderStub) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, l.dim)
	}
	return out, nil
}

func (l *localEmbedderStub) ModelName() string { return "stub" }
