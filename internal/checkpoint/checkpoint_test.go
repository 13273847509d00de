package checkpoint

import (
	"context"
	"sync"
	"testing"
)

func TestNormalizeForRead_AlreadyFlat(t *testing.T) {
	input := map[string]any{
		"watermark":   "2025-12-22T20:00:00Z",
		"lastRunId":   "run-123",
		"recordCount": 100,
	}
	result := NormalizeForRead(input)
	if result["watermark"] != "2025-12-22T20:00:00Z" {
		t.Errorf("expected watermark to be preserved, got %v", result["watermark"])
	}
}

func TestNormalizeForRead_DeeplyNested(t *testing.T) {
	innermost := map[string]any{
		"watermark":   "2025-12-15T12:36:06Z",
		"lastRunAt":   "2025-12-15T12:36:11Z",
		"recordCount": 50,
		"dataMode":    "raw",
	}

	nested := any(innermost)
	for i := 0; i < 35; i++ {
		nested = map[string]any{
			"cursor":      nested,
			"lastRunAt":   "2025-12-15",
			"recordCount": 50,
		}
	}

	input := map[string]any{
		"cursor":    nested,
		"lastRunId": "legacy-run",
	}

	result := NormalizeForRead(input)

	wm, ok := result["watermark"].(string)
	if !ok || wm != "2025-12-15T12:36:06Z" {
		t.Fatalf("expected watermark '2025-12-15T12:36:06Z', got %v", result["watermark"])
	}
	if result["recordCount"] != 50 {
		t.Errorf("expected innermost recordCount to survive normalization, got %v", result["recordCount"])
	}
	if result["dataMode"] != "raw" {
		t.Errorf("expected innermost dataMode to survive normalization, got %v", result["dataMode"])
	}
	if cursor, ok := result["cursor"].(string); !ok || cursor != wm {
		t.Errorf("expected flattened cursor to equal watermark, got %v", result["cursor"])
	}
}

func TestNormalizeForRead_NoWatermarkFound(t *testing.T) {
	input := map[string]any{
		"cursor": map[string]any{
			"position": "100",
		},
	}
	result := NormalizeForRead(input)
	if result["position"] != nil {
		t.Fatalf("did not expect a top-level position key, got %v", result)
	}
	cursor, ok := result["cursor"].(map[string]any)
	if !ok || cursor["position"] != "100" {
		t.Errorf("expected checkpoint to be returned unchanged when no watermark is found, got %v", result)
	}
}

func TestNormalizeForRead_Idempotent(t *testing.T) {
	input := map[string]any{
		"cursor": map[string]any{
			"cursor": map[string]any{
				"watermark":   "2025-01-01T00:00:00Z",
				"recordCount": 10,
			},
		},
	}
	once := NormalizeForRead(input)
	twice := NormalizeForRead(once)
	if once["watermark"] != twice["watermark"] || once["recordCount"] != twice["recordCount"] {
		t.Fatalf("normalization is not idempotent: once=%v twice=%v", once, twice)
	}
}

func TestMerge_FlattensNestedCursor(t *testing.T) {
	base := map[string]any{
		"runId": "run-1",
		"cursor": map[string]any{
			"cursor": map[string]any{
				"position": "100",
			},
		},
	}
	res := Merge(base, nil)
	cursor, ok := res["cursor"].(map[string]any)
	if !ok {
		t.Fatalf("expected cursor to be a map, got %T", res["cursor"])
	}
	if _, nested := cursor["cursor"]; nested {
		t.Error("merge failed to flatten nested cursor")
	}
	if cursor["position"] != "100" {
		t.Errorf("expected position 100, got %v", cursor["position"])
	}
}

func TestMerge_LiftsWatermarkFromFlattenedCursor(t *testing.T) {
	base := map[string]any{
		"cursor": map[string]any{
			"cursor": map[string]any{
				"watermark": "2025-06-01T00:00:00Z",
			},
		},
	}
	res := Merge(base, nil)
	if res["watermark"] != "2025-06-01T00:00:00Z" {
		t.Errorf("expected watermark to be lifted to top level, got %v", res["watermark"])
	}
	if res["cursor"] != "2025-06-01T00:00:00Z" {
		t.Errorf("expected cursor to collapse to the watermark string, got %v", res["cursor"])
	}
}

func TestMerge_AppliesUpdatesOntoBase(t *testing.T) {
	base := map[string]any{
		"runId":  "run-1",
		"cursor": "cursor-a",
	}
	updates := map[string]any{
		"runId":       "run-2",
		"recordCount": 10,
	}
	res := Merge(base, updates)
	if res["runId"] != "run-2" {
		t.Errorf("expected updates to win on collision, got %v", res["runId"])
	}
	if res["recordCount"] != 10 {
		t.Errorf("expected new keys from updates to be present, got %v", res["recordCount"])
	}
	if res["cursor"] != "cursor-a" {
		t.Errorf("expected untouched base fields to survive, got %v", res["cursor"])
	}
}

func TestMerge_RoundTripOnFlatCheckpoint(t *testing.T) {
	base := map[string]any{
		"watermark": "2025-01-01T00:00:00Z",
		"cursor":    "2025-01-01T00:00:00Z",
	}
	res := Merge(base, map[string]any{})
	if res["watermark"] != base["watermark"] || res["cursor"] != base["cursor"] {
		t.Fatalf("expected merge with no updates to round-trip an already-flat checkpoint, got %v", res)
	}
}

func TestSanitizeKey(t *testing.T) {
	got := SanitizeKey("tenant::project ingest key")
	want := "tenant/project_ingest_key"
	if got != want {
		t.Errorf("SanitizeKey(%q) = %q, want %q", "tenant::project ingest key", got, want)
	}
}

// fakeKV is an in-memory CAS-capable KV double for exercising Store without
// a real kvclient/kvpb round trip.
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
		return errVersionConflict
	}
	f.values[fk] = value
	f.versions[fk] = expectedVersion + 1
	return nil
}

var errVersionConflict = &kvConflictError{}

type kvConflictError struct{}

func (*kvConflictError) Error() string { return "version conflict" }

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv)
	ctx := context.Background()

	saved, err := store.Save(ctx, "tenant-a", "proj-1", "indexer:ep:ds", map[string]any{"watermark": "2025-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved["watermark"] != "2025-01-01T00:00:00Z" {
		t.Fatalf("unexpected saved checkpoint: %v", saved)
	}

	loaded, err := store.Load(ctx, "tenant-a", "proj-1", "indexer:ep:ds")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded["watermark"] != "2025-01-01T00:00:00Z" {
		t.Fatalf("unexpected loaded checkpoint: %v", loaded)
	}
}

func TestStore_SaveMergesOntoExisting(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv)
	ctx := context.Background()

	if _, err := store.Save(ctx, "tenant-a", "proj-1", "k", map[string]any{"runId": "run-1", "recordCount": 1}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	merged, err := store.Save(ctx, "tenant-a", "proj-1", "k", map[string]any{"recordCount": 2})
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if merged["runId"] != "run-1" {
		t.Errorf("expected runId to survive merge, got %v", merged["runId"])
	}
	if merged["recordCount"] != 2 {
		t.Errorf("expected recordCount to be updated, got %v", merged["recordCount"])
	}
}

func TestStore_LoadMissingReturnsNilWithoutError(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv)
	cp, err := store.Load(context.Background(), "tenant-a", "proj-1", "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp != nil {
		t.Fatalf("expected nil checkpoint for missing key, got %v", cp)
	}
}

