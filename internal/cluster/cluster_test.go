package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

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
	entries []vectorstore.Entry
}

func (s *fakeVectorStore) UpsertEntries(ctx context.Context, entries []vectorstore.Entry) error { return nil }
func (s *fakeVectorStore) Query(ctx context.Context, embedding []float32, filter vectorstore.QueryFilter, topK int) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (s *fakeVectorStore) DeleteByArtifact(ctx context.Context, tenantID, artifactID, runID string) error {
	return nil
}
func (s *fakeVectorStore) ListEntries(ctx context.Context, filter vectorstore.QueryFilter, limit int) ([]vectorstore.Entry, error) {
	return s.entries, nil
}

type fakeKG struct {
	mu    sync.Mutex
	nodes []Node
	edges []Edge
}

func (k *fakeKG) UpsertNode(ctx context.Context, tenantID, projectID string, node Node) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nodes = append(k.nodes, node)
	return nil
}

func (k *fakeKG) UpsertEdge(ctx context.Context, tenantID, projectID string, edge Edge) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.edges = append(k.edges, edge)
	return nil
}

type fakeLogStore struct {
	mu      sync.Mutex
	appends map[string][]logstore.Record
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{appends: map[string][]logstore.Record{}}
}

func (l *fakeLogStore) CreateTable(ctx context.Context, table string) error { return nil }
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

func vec(values ...float32) []float32 { return values }

func TestRun_GreedyAssignmentGroupsSimilarEntries(t *testing.T) {
	now := time.Now()
	entries := []vectorstore.Entry{
		{NodeID: "a", Embedding: vec(1, 0, 0), UpdatedAt: &now},
		{NodeID: "b", Embedding: vec(0.95, 0.05, 0), UpdatedAt: &now},
		{NodeID: "c", Embedding: vec(0, 1, 0), UpdatedAt: &now},
	}
	vecStore := &fakeVectorStore{entries: entries}
	kv := newFakeKV()
	cpStore := checkpoint.NewStore(kv)
	kg := &fakeKG{}
	logs := newFakeLogStore()

	result, err := Run(context.Background(), vecStore, kv, cpStore, kg, logs, &RunRequest{
		TenantID:     "tenant-a",
		ProjectID:    "proj-1",
		DatasetSlug:  "issues",
		SourceFamily: "github",
		RunID:        "run-1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// "c" sits in no multi-member component, so once a component refinement
	// exists it replaces the greedy assignment wholesale and "c" drops out
	// of this pass entirely (the same component-wins-over-singletons
	// behavior the algorithm this is grounded on exhibits).
	if result.MembersLinked != 2 {
		t.Errorf("expected 2 members linked after component refinement, got %d", result.MembersLinked)
	}
	if result.ClustersCreated == 0 {
		t.Error("expected at least one cluster created")
	}
	if len(kg.nodes) == 0 {
		t.Error("expected cluster nodes written to the knowledge graph")
	}
	if len(kg.edges) == 0 {
		t.Error("expected IN_CLUSTER edges written to the knowledge graph")
	}
	if result.NewCheckpoint["lastUpdatedAt"] == nil {
		t.Error("expected lastUpdatedAt to be stamped on the checkpoint")
	}
}

func TestRun_NoEntriesReturnsEmptyResultWithoutError(t *testing.T) {
	vecStore := &fakeVectorStore{}
	kv := newFakeKV()
	cpStore := checkpoint.NewStore(kv)

	result, err := Run(context.Background(), vecStore, kv, cpStore, &fakeKG{}, newFakeLogStore(), &RunRequest{
		TenantID: "tenant-a", ProjectID: "proj-1", DatasetSlug: "issues",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ClustersCreated != 0 {
		t.Errorf("expected no clusters, got %d", result.ClustersCreated)
	}
}

func TestRun_SecondPassReusesCachedCentroidOnUnchangedMembership(t *testing.T) {
	now := time.Now()
	entries := []vectorstore.Entry{
		{NodeID: "a", Embedding: vec(1, 0, 0), UpdatedAt: &now},
		{NodeID: "b", Embedding: vec(0.95, 0.05, 0), UpdatedAt: &now},
	}
	vecStore := &fakeVectorStore{entries: entries}
	kv := newFakeKV()
	cpStore := checkpoint.NewStore(kv)
	req := &RunRequest{TenantID: "tenant-a", ProjectID: "proj-1", DatasetSlug: "issues", SourceFamily: "github", RunID: "run-1"}

	if _, err := Run(context.Background(), vecStore, kv, cpStore, &fakeKG{}, newFakeLogStore(), req); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := Run(context.Background(), vecStore, kv, cpStore, &fakeKG{}, newFakeLogStore(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.CacheHits == 0 {
		t.Error("expected the second pass to reuse the cached centroid for the unchanged membership")
	}
}

func TestMakeStableClusterID_IsOrderIndependent(t *testing.T) {
	id1 := makeStableClusterID("issues", "github", []string{"b", "a", "c"})
	id2 := makeStableClusterID("issues", "github", []string{"c", "b", "a"})
	if id1 != id2 {
		t.Errorf("expected stable cluster ID to be independent of member order, got %q vs %q", id1, id2)
	}
}
