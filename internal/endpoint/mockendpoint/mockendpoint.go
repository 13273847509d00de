// Package mockendpoint provides in-process reference Source and Sink
// endpoints so the ingestion pipeline can be exercised end-to-end without a
// live vendor connector. Mirrors the capability shape real connectors
// satisfy (internal/endpoint), reduced to an in-memory fixture.
package mockendpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
)

const TemplateSource = "mock.source"
const TemplateSink = "mock.sink"

// Source replays a fixed fixture list, optionally resuming from a
// watermark stored as an integer offset string.
type Source struct {
	records []endpoint.Record
}

// NewSource builds a mock source over the given fixture records.
func NewSource(config map[string]any) (endpoint.Endpoint, error) {
	var recs []endpoint.Record
	if raw, ok := config["records"].([]endpoint.Record); ok {
		recs = raw
	}
	return &Source{records: recs}, nil
}

func (s *Source) ID() string { return TemplateSource }

func (s *Source) ValidateConfig(ctx context.Context, config map[string]any) (*endpoint.ValidationResult, error) {
	return &endpoint.ValidationResult{Valid: true}, nil
}

func (s *Source) GetCapabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true,
		SupportsPreview:     true,
		DefaultFetchSize:    1000,
	}
}

func (s *Source) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{TemplateID: TemplateSource, DisplayName: "Mock Source"}
}

func (s *Source) Close() error { return nil }

func (s *Source) ListDatasets(ctx context.Context) ([]*endpoint.Dataset, error) {
	return []*endpoint.Dataset{{ID: "fixture", Name: "fixture", Kind: "table"}}, nil
}

func (s *Source) GetSchema(ctx context.Context, datasetID string) (*endpoint.Schema, error) {
	return &endpoint.Schema{Fields: []*endpoint.FieldDefinition{{Name: "id", DataType: "string"}}}, nil
}

func (s *Source) Read(ctx context.Context, req *endpoint.ReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	offset := watermarkOffset(req.Checkpoint)
	if offset < 0 || offset > len(s.records) {
		offset = 0
	}
	return &sliceIterator{records: s.records[offset:], baseOffset: offset}, nil
}

// GetCheckpoint implements endpoint.IncrementalCapable.
func (s *Source) GetCheckpoint(ctx context.Context, datasetID string) (map[string]any, error) {
	return map[string]any{"watermark": fmt.Sprintf("%d", len(s.records))}, nil
}

// PlanSlices implements endpoint.SliceCapable: one slice per target chunk.
func (s *Source) PlanSlices(ctx context.Context, req *endpoint.PlanRequest) (*endpoint.IngestionPlan, error) {
	target := req.TargetSliceSize
	if target <= 0 {
		target = int64(len(s.records))
		if target == 0 {
			target = 1
		}
	}
	var slices []*endpoint.IngestionSlice
	seq := 0
	for lower := int64(0); lower < int64(len(s.records)); lower += target {
		upper := lower + target
		if upper > int64(len(s.records)) {
			upper = int64(len(s.records))
		}
		slices = append(slices, &endpoint.IngestionSlice{
			SliceID:       fmt.Sprintf("slice-%d", seq),
			Sequence:      seq,
			Lower:         fmt.Sprintf("%d", lower),
			Upper:         fmt.Sprintf("%d", upper),
			EstimatedRows: upper - lower,
		})
		seq++
	}
	if len(slices) == 0 {
		slices = append(slices, &endpoint.IngestionSlice{SliceID: "full", Sequence: 0})
	}
	return &endpoint.IngestionPlan{
		DatasetID: req.DatasetID,
		Strategy:  req.Strategy,
		Slices:    slices,
		Statistics: map[string]any{
			"estimatedRows": int64(len(s.records)),
		},
	}, nil
}

func (s *Source) ReadSlice(ctx context.Context, req *endpoint.SliceReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	var lower, upper int64
	fmt.Sscanf(req.Slice.Lower, "%d", &lower)
	fmt.Sscanf(req.Slice.Upper, "%d", &upper)
	if req.Slice.Upper == "" {
		upper = int64(len(s.records))
	}
	if lower < 0 {
		lower = 0
	}
	if upper > int64(len(s.records)) {
		upper = int64(len(s.records))
	}
	if lower > upper {
		lower = upper
	}
	return &sliceIterator{records: s.records[lower:upper], baseOffset: int(lower)}, nil
}

func (s *Source) CountBetween(ctx context.Context, datasetID, lower, upper string) (int64, error) {
	return int64(len(s.records)), nil
}

// NormalizeForIndex implements endpoint.VectorProfileProvider.
func (s *Source) NormalizeForIndex(ctx context.Context, rec endpoint.Record) (*endpoint.VectorCandidate, error) {
	id, _ := rec["id"].(string)
	title, _ := rec["title"].(string)
	body, _ := rec["body"].(string)
	text := strings.TrimSpace(title + "\n" + body)
	if text == "" {
		return nil, fmt.Errorf("no content to index")
	}
	return &endpoint.VectorCandidate{NodeID: id, ContentText: text}, nil
}

func watermarkOffset(cp map[string]any) int {
	if cp == nil {
		return 0
	}
	wm, _ := cp["watermark"].(string)
	if wm == "" {
		return 0
	}
	var n int
	fmt.Sscanf(wm, "%d", &n)
	return n
}

type sliceIterator struct {
	records    []endpoint.Record
	baseOffset int
	pos        int
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Value() endpoint.Record { return it.records[it.pos-1] }
func (it *sliceIterator) Err() error              { return nil }
func (it *sliceIterator) Close() error            { return nil }

// Checkpoint implements endpoint.CheckpointAware.
func (it *sliceIterator) Checkpoint() map[string]any {
	return map[string]any{"watermark": fmt.Sprintf("%d", it.baseOffset+it.pos)}
}

// Sink discards writes after recording stats, useful for exercising the
// sink half of the contract in tests.
type Sink struct {
	written int64
}

// NewSink builds a mock sink.
func NewSink(config map[string]any) (endpoint.Endpoint, error) {
	return &Sink{}, nil
}

func (s *Sink) ID() string { return TemplateSink }

func (s *Sink) ValidateConfig(ctx context.Context, config map[string]any) (*endpoint.ValidationResult, error) {
	return &endpoint.ValidationResult{Valid: true}, nil
}

func (s *Sink) GetCapabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{SupportsWrite: true, SupportsFinalize: true, SupportsWatermark: true}
}

func (s *Sink) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{TemplateID: TemplateSink, DisplayName: "Mock Sink"}
}

func (s *Sink) Close() error { return nil }

func (s *Sink) WriteRaw(ctx context.Context, req *endpoint.WriteRequest) (*endpoint.WriteResult, error) {
	s.written += int64(len(req.Records))
	return &endpoint.WriteResult{RecordsWritten: int64(len(req.Records))}, nil
}

func (s *Sink) Finalize(ctx context.Context, datasetID string, loadDate string) (*endpoint.FinalizeResult, error) {
	return &endpoint.FinalizeResult{Path: fmt.Sprintf("mock://%s/%s", datasetID, loadDate)}, nil
}

func (s *Sink) GetLatestWatermark(ctx context.Context, datasetID string) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// Register installs both mock endpoints into the default endpoint and
// discovery registries.
func Register() {
	endpoint.Register(TemplateSource, NewSource)
	endpoint.Register(TemplateSink, NewSink)
	endpoint.DefaultDiscovery().Declare(TemplateSource,
		endpoint.TraitSource, endpoint.TraitIncremental, endpoint.TraitSlice, endpoint.TraitVectorProfile)
	endpoint.DefaultDiscovery().Declare(TemplateSink,
		endpoint.TraitSink)
}
