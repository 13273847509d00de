package checkpoint

import (
	"context"
	"sync"
	"testing"

	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
)

// fakeLogStore is an in-memory logstore.Store double so History can be
// exercised without a real MinIO-backed store.
type fakeLogStore struct {
	mu        sync.Mutex
	tables    map[string]bool
	snapshots map[string][]byte // path -> bytes
	pruned    []string
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{tables: map[string]bool{}, snapshots: map[string][]byte{}}
}

func (f *fakeLogStore) CreateTable(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = true
	return nil
}

func (f *fakeLogStore) Append(ctx context.Context, table, runID string, records []logstore.Record) (string, error) {
	return "", nil
}

func (f *fakeLogStore) WriteSnapshot(ctx context.Context, table, runID string, snapshot []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := table + "/" + runID + ".snapshot.json"
	f.snapshots[path] = snapshot
	return path, nil
}

func (f *fakeLogStore) Prune(ctx context.Context, table string, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, table)
	return nil
}

func (f *fakeLogStore) ListPaths(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.snapshots {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestHistory_NilHistoryDegradesToNoop(t *testing.T) {
	var h *History
	ref, err := h.ArchiveCheckpoint(context.Background(), "k", nil, 1)
	if err != nil || ref != "" {
		t.Fatalf("expected nil-receiver ArchiveCheckpoint to no-op, got ref=%q err=%v", ref, err)
	}
	entries, err := h.ListHistory(context.Background(), "k", 10)
	if err != nil || entries != nil {
		t.Fatalf("expected nil-receiver ListHistory to no-op, got %v %v", entries, err)
	}
	if err := h.PruneHistory(context.Background(), DefaultRetentionPolicy()); err != nil {
		t.Fatalf("expected nil-receiver PruneHistory to no-op, got %v", err)
	}
}

func TestHistory_NilStoreDegradesToNoop(t *testing.T) {
	h := NewHistory(nil)
	ref, err := h.ArchiveCheckpoint(context.Background(), "k", map[string]any{"a": 1}, 1)
	if err != nil || ref != "" {
		t.Fatalf("expected nil-store ArchiveCheckpoint to no-op, got ref=%q err=%v", ref, err)
	}
}

func TestHistory_ArchiveCheckpointCreatesTableAndSnapshot(t *testing.T) {
	store := newFakeLogStore()
	h := NewHistory(store)

	ref, err := h.ArchiveCheckpoint(context.Background(), "run-key", map[string]any{"watermark": "v1"}, 1)
	if err != nil {
		t.Fatalf("ArchiveCheckpoint: %v", err)
	}
	if ref != "checkpoints/run-key-v1.snapshot.json" {
		t.Fatalf("unexpected ref: %q", ref)
	}
	if !store.tables[historyTable] {
		t.Error("expected ArchiveCheckpoint to create the history table")
	}
	if _, ok := store.snapshots[ref]; !ok {
		t.Error("expected snapshot to be recorded under the returned ref")
	}
}

func TestHistory_ListHistoryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	store := newFakeLogStore()
	h := NewHistory(store)
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		if _, err := h.ArchiveCheckpoint(ctx, "run-key", map[string]any{"v": v}, v); err != nil {
			t.Fatalf("ArchiveCheckpoint(v=%d): %v", v, err)
		}
	}

	entries, err := h.ListHistory(ctx, "run-key", 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (limit applied)", len(entries))
	}
	if entries[0].Version < entries[1].Version {
		t.Errorf("expected newest-first ordering, got versions %d, %d", entries[0].Version, entries[1].Version)
	}
}

func TestHistory_ArchiveAndPruneReturnsRefAndPrunesInBackground(t *testing.T) {
	store := newFakeLogStore()
	h := NewHistory(store)

	ref, err := h.ArchiveAndPrune(context.Background(), "run-key", map[string]any{"v": 1}, 1, DefaultRetentionPolicy())
	if err != nil {
		t.Fatalf("ArchiveAndPrune: %v", err)
	}
	if ref == "" {
		t.Error("expected a non-empty archive ref")
	}
}

func TestExtractVersion(t *testing.T) {
	cases := map[string]int{
		"checkpoints/tenant_proj_key-v3.snapshot.json": 3,
		"checkpoints/tenant_proj_key-v0.snapshot.json": 0,
		"checkpoints/no-version-suffix":                0,
	}
	for path, want := range cases {
		if got := extractVersion(path); got != want {
			t.Errorf("extractVersion(%q) = %d, want %d", path, got, want)
		}
	}
}
