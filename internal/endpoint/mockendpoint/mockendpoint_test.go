package mockendpoint

import (
	"context"
	"testing"

	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
)

func fixtureRecords() []endpoint.Record {
	return []endpoint.Record{
		{"id": "1", "title": "first", "body": "alpha"},
		{"id": "2", "title": "second", "body": "beta"},
		{"id": "3", "title": "third", "body": "gamma"},
	}
}

func TestSource_ReadFromScratch(t *testing.T) {
	ep, err := NewSource(map[string]any{"records": fixtureRecords()})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	src := ep.(endpoint.SourceEndpoint)

	it, err := src.Read(context.Background(), &endpoint.ReadRequest{DatasetID: "fixture"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got []endpoint.Record
	for it.Next() {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d records, want 3", len(got))
	}
}

func TestSource_ReadResumesFromWatermark(t *testing.T) {
	ep, _ := NewSource(map[string]any{"records": fixtureRecords()})
	src := ep.(endpoint.SourceEndpoint)

	it, err := src.Read(context.Background(), &endpoint.ReadRequest{
		Checkpoint: map[string]any{"watermark": "2"},
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got []endpoint.Record
	for it.Next() {
		got = append(got, it.Value())
	}
	if len(got) != 1 || got[0]["id"] != "3" {
		t.Fatalf("expected resume to yield only the last record, got %v", got)
	}
}

func TestSource_PlanSlicesChunksByTargetSize(t *testing.T) {
	ep, _ := NewSource(map[string]any{"records": fixtureRecords()})
	src := ep.(endpoint.SliceCapable)

	plan, err := src.PlanSlices(context.Background(), &endpoint.PlanRequest{
		DatasetID:       "fixture",
		TargetSliceSize: 2,
	})
	if err != nil {
		t.Fatalf("PlanSlices: %v", err)
	}
	if len(plan.Slices) != 2 {
		t.Fatalf("got %d slices, want 2 (2 records then 1)", len(plan.Slices))
	}
	if plan.Slices[0].EstimatedRows != 2 || plan.Slices[1].EstimatedRows != 1 {
		t.Errorf("unexpected slice sizes: %+v", plan.Slices)
	}
}

func TestSource_ReadSliceBounds(t *testing.T) {
	ep, _ := NewSource(map[string]any{"records": fixtureRecords()})
	src := ep.(endpoint.SliceCapable)

	it, err := src.ReadSlice(context.Background(), &endpoint.SliceReadRequest{
		Slice: &endpoint.IngestionSlice{Lower: "1", Upper: "3"},
	})
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	var got []endpoint.Record
	for it.Next() {
		got = append(got, it.Value())
	}
	if len(got) != 2 || got[0]["id"] != "2" || got[1]["id"] != "3" {
		t.Fatalf("unexpected slice contents: %v", got)
	}
}

func TestSource_NormalizeForIndex(t *testing.T) {
	ep, _ := NewSource(nil)
	src := ep.(endpoint.VectorProfileProvider)

	_, err := src.NormalizeForIndex(context.Background(), endpoint.Record{"id": "x"})
	if err == nil {
		t.Error("expected error when there is no content to index")
	}

	cand, err := src.NormalizeForIndex(context.Background(), endpoint.Record{
		"id": "x", "title": "t", "body": "b",
	})
	if err != nil {
		t.Fatalf("NormalizeForIndex: %v", err)
	}
	if cand.NodeID != "x" || cand.ContentText != "t\nb" {
		t.Errorf("unexpected candidate: %+v", cand)
	}
}

func TestSink_WriteRawAccumulatesCount(t *testing.T) {
	ep, err := NewSink(nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink := ep.(endpoint.SinkEndpoint)

	res, err := sink.WriteRaw(context.Background(), &endpoint.WriteRequest{
		DatasetID: "fixture",
		Records:   []endpoint.Record{{"id": "1"}, {"id": "2"}},
	})
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if res.RecordsWritten != 2 {
		t.Errorf("RecordsWritten = %d, want 2", res.RecordsWritten)
	}

	fin, err := sink.Finalize(context.Background(), "fixture", "2026-08-01")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if fin.Path != "mock://fixture/2026-08-01" {
		t.Errorf("Finalize path = %q", fin.Path)
	}
}

func TestRegister_InstallsBothTemplatesAndTraits(t *testing.T) {
	Register()

	if _, ok := endpoint.DefaultRegistry().Get(TemplateSource); !ok {
		t.Error("expected mock source to be registered in the default registry")
	}
	if _, ok := endpoint.DefaultRegistry().Get(TemplateSink); !ok {
		t.Error("expected mock sink to be registered in the default registry")
	}
	if traits := endpoint.DefaultDiscovery().Traits(TemplateSource); len(traits) == 0 {
		t.Error("expected mock source traits to be declared")
	}
}
