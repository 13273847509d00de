package staging

import (
	"context"
	"sync"
	"testing"

	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
)

func TestMemoryProvider_PutAndGetBatch(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &PutBatchRequest{
		SliceID: "slice-1",
		Records: []RecordEnvelope{{RecordKind: "raw", Payload: map[string]any{"id": "1"}}},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if res.BatchRef != "slice-1-000000" {
		t.Errorf("unexpected batch ref: %s", res.BatchRef)
	}

	got, err := p.GetBatch(ctx, res.StageRef, res.BatchRef)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got) != 1 || got[0].Payload["id"] != "1" {
		t.Errorf("unexpected batch contents: %v", got)
	}
}

func TestMemoryProvider_RejectsOverCap(t *testing.T) {
	p := NewMemoryProvider(1)
	_, err := p.PutBatch(context.Background(), &PutBatchRequest{
		SliceID: "slice-1",
		Records: []RecordEnvelope{{RecordKind: "raw", Payload: map[string]any{"id": "1"}}},
	})
	code, retryable := coreerr.Classify(err)
	if code != coreerr.CodeStageTooLarge {
		t.Fatalf("expected CodeStageTooLarge, got %v", code)
	}
	if retryable {
		t.Error("expected stage-too-large to be non-retryable")
	}
}

func TestMemoryProvider_RejectsWritesAfterFinalize(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &PutBatchRequest{SliceID: "slice-1", Records: []RecordEnvelope{{Payload: map[string]any{"id": "1"}}}})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := p.FinalizeStage(ctx, res.StageRef); err != nil {
		t.Fatalf("FinalizeStage: %v", err)
	}

	_, err = p.PutBatch(ctx, &PutBatchRequest{StageRef: res.StageRef, SliceID: "slice-1", Records: []RecordEnvelope{{Payload: map[string]any{"id": "2"}}}})
	if err == nil {
		t.Fatal("expected PutBatch after finalize to fail")
	}

	// batches written before finalize must remain readable.
	got, err := p.GetBatch(ctx, res.StageRef, res.BatchRef)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected prior batch to remain readable after finalize, got %v, err %v", got, err)
	}
}

// fakeObjectClient is an in-memory double for ObjectClient.
type fakeObjectClient struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeObjectClient() *fakeObjectClient {
	return &fakeObjectClient{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeObjectClient) EnsureBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectClient) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	return nil
}

func (f *fakeObjectClient) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errObjectNotFound
	}
	return data, nil
}

func (f *fakeObjectClient) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if len(k) > len(bucket)+1 && k[:len(bucket)+1] == bucket+"/" {
			rel := k[len(bucket)+1:]
			if len(rel) >= len(prefix) && rel[:len(prefix)] == prefix {
				keys = append(keys, rel)
			}
		}
	}
	return keys, nil
}

func (f *fakeObjectClient) StatObject(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

type notFoundError struct{}

func (*notFoundError) Error() string { return "object not found" }

var errObjectNotFound = &notFoundError{}

func TestObjectProvider_PutListGetBatch(t *testing.T) {
	client := newFakeObjectClient()
	p, err := NewObjectProvider(client, "bucket-1", "staging")
	if err != nil {
		t.Fatalf("NewObjectProvider: %v", err)
	}
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &PutBatchRequest{
		SliceID: "slice-1",
		Records: []RecordEnvelope{{Payload: map[string]any{"id": "1"}}, {Payload: map[string]any{"id": "2"}}},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	refs, err := p.ListBatches(ctx, res.StageRef, "slice-1")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(refs) != 1 || refs[0] != res.BatchRef {
		t.Fatalf("unexpected batch refs: %v", refs)
	}

	records, err := p.GetBatch(ctx, res.StageRef, res.BatchRef)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestObjectProvider_FinalizeExcludesSentinelFromListing(t *testing.T) {
	client := newFakeObjectClient()
	p, err := NewObjectProvider(client, "bucket-1", "staging")
	if err != nil {
		t.Fatalf("NewObjectProvider: %v", err)
	}
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &PutBatchRequest{SliceID: "slice-1", Records: []RecordEnvelope{{Payload: map[string]any{"id": "1"}}}})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := p.FinalizeStage(ctx, res.StageRef); err != nil {
		t.Fatalf("FinalizeStage: %v", err)
	}

	refs, err := p.ListBatches(ctx, res.StageRef, "slice-1")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected the sentinel to be excluded from listing, got %v", refs)
	}

	_, err = p.PutBatch(ctx, &PutBatchRequest{StageRef: res.StageRef, SliceID: "slice-1", Records: []RecordEnvelope{{Payload: map[string]any{"id": "2"}}}})
	if err == nil {
		t.Fatal("expected PutBatch after finalize to fail")
	}
}

func TestRegistry_SelectProvider_PreferredWins(t *testing.T) {
	mem := NewMemoryProvider(0)
	reg := NewRegistry(mem)
	p, err := reg.SelectProvider(ProviderMemory, false, 10_000_000, 1024)
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.ID() != ProviderMemory {
		t.Errorf("expected memory provider, got %s", p.ID())
	}
}

func TestRegistry_SelectProvider_ConflictingPreferenceIsConfigError(t *testing.T) {
	client := newFakeObjectClient()
	obj, _ := NewObjectProvider(client, "bucket-1", "staging")
	reg := NewRegistry(obj)
	_, err := reg.SelectProvider(ProviderObjectStore, true, 0, 0)
	code, retryable := coreerr.Classify(err)
	if code != coreerr.CodeStagingUnavailable || retryable {
		t.Fatalf("expected non-retryable CodeStagingUnavailable, got code=%v retryable=%v", code, retryable)
	}
}

func TestRegistry_SelectProvider_SizeBasedFallback(t *testing.T) {
	mem := NewMemoryProvider(0)
	client := newFakeObjectClient()
	obj, _ := NewObjectProvider(client, "bucket-1", "staging")
	reg := NewRegistry(mem, obj)

	small, err := reg.SelectProvider("", false, 100, 1024)
	if err != nil || small.ID() != ProviderMemory {
		t.Fatalf("expected memory for small estimate, got %v err=%v", small, err)
	}

	large, err := reg.SelectProvider("", false, 10_000_000, 1024)
	if err != nil || large.ID() != ProviderObjectStore {
		t.Fatalf("expected object store for large estimate, got %v err=%v", large, err)
	}
}
