// Package planner builds bounded slice plans from an endpoint's declared
// capabilities and the dataset's current checkpoint.
package planner

import (
	"context"
	"fmt"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
)

// sliceSizeKeys are the policy keys checked, in order, at the top level or
// nested under "parameters", to resolve the caller's target slice size.
var sliceSizeKeys = []string{"targetSliceSize", "target_slice_size", "targetRowsPerSlice", "target_rows_per_slice"}

// PlanRequest describes what to plan for.
type PlanRequest struct {
	DatasetID  string
	Strategy   string // "full" | "incremental" | "adaptive"
	Checkpoint map[string]any
	Policy     map[string]any
}

// Plan produces an ingestion plan for the endpoint/dataset pair, dispatching
// on strategy and the endpoint's declared capabilities.
func Plan(ctx context.Context, src endpoint.SourceEndpoint, req *PlanRequest) (*endpoint.IngestionPlan, error) {
	targetSize := resolveTargetSliceSize(req.Policy)

	switch req.Strategy {
	case "adaptive":
		return planAdaptive(ctx, src, req, targetSize)
	case "incremental":
		return planIncremental(ctx, src, req, targetSize)
	default:
		return planFull(ctx, src, req, targetSize)
	}
}

func planFull(ctx context.Context, src endpoint.SourceEndpoint, req *PlanRequest, targetSize int64) (*endpoint.IngestionPlan, error) {
	if slicer, ok := src.(endpoint.SliceCapable); ok {
		plan, err := slicer.PlanSlices(ctx, &endpoint.PlanRequest{
			DatasetID:       req.DatasetID,
			Strategy:        "full",
			TargetSliceSize: targetSize,
		})
		if err != nil {
			return nil, err
		}
		return withMetadata(plan, src, req.DatasetID, targetSize), nil
	}
	return withMetadata(&endpoint.IngestionPlan{
		DatasetID: req.DatasetID,
		Strategy:  "full",
		Slices:    []*endpoint.IngestionSlice{{SliceID: "full", Sequence: 0}},
	}, src, req.DatasetID, targetSize), nil
}

func planIncremental(ctx context.Context, src endpoint.SourceEndpoint, req *PlanRequest, targetSize int64) (*endpoint.IngestionPlan, error) {
	normalized := checkpoint.NormalizeForRead(req.Checkpoint)

	slicer, ok := src.(endpoint.SliceCapable)
	if !ok {
		return withMetadata(&endpoint.IngestionPlan{
			DatasetID: req.DatasetID,
			Strategy:  "incremental",
			Slices:    []*endpoint.IngestionSlice{{SliceID: "full", Sequence: 0}},
		}, src, req.DatasetID, targetSize), nil
	}

	plan, err := slicer.PlanSlices(ctx, &endpoint.PlanRequest{
		DatasetID:       req.DatasetID,
		Strategy:        "incremental",
		Checkpoint:      normalized,
		TargetSliceSize: targetSize,
	})
	if err != nil {
		return nil, err
	}
	return withMetadata(plan, src, req.DatasetID, targetSize), nil
}

func planAdaptive(ctx context.Context, src endpoint.SourceEndpoint, req *PlanRequest, targetSize int64) (*endpoint.IngestionPlan, error) {
	adaptive, ok := src.(endpoint.AdaptiveCapable)
	if !ok {
		return planFull(ctx, src, req, targetSize)
	}

	probe, err := adaptive.ProbeIngestion(ctx, req.DatasetID, checkpoint.NormalizeForRead(req.Checkpoint))
	if err != nil {
		return nil, fmt.Errorf("probe ingestion: %w", err)
	}

	slicer, ok := src.(endpoint.SliceCapable)
	if !ok {
		plan := &endpoint.IngestionPlan{
			DatasetID:  req.DatasetID,
			Strategy:   "adaptive",
			Statistics: map[string]any{"estimatedRows": probe.EstimatedRows, "estimatedBytes": probe.EstimatedBytes},
			Slices:     []*endpoint.IngestionSlice{{SliceID: "full", Sequence: 0, EstimatedRows: probe.EstimatedRows}},
		}
		return withMetadata(plan, src, req.DatasetID, targetSize), nil
	}

	plan, err := slicer.PlanSlices(ctx, &endpoint.PlanRequest{
		DatasetID:       req.DatasetID,
		Strategy:        "adaptive",
		TargetSliceSize: targetSize,
		Probe:           probe,
	})
	if err != nil {
		return nil, err
	}
	if plan.Statistics == nil {
		plan.Statistics = map[string]any{}
	}
	plan.Statistics["estimatedRows"] = probe.EstimatedRows
	plan.Statistics["estimatedBytes"] = probe.EstimatedBytes
	return withMetadata(plan, src, req.DatasetID, targetSize), nil
}

// withMetadata fills in the plan-level metadata contract (datasetId,
// templateId, sliceCount, targetSliceSize, schema), resolving schema via CDM
// registry mapping first, then the endpoint's own GetSchema.
func withMetadata(plan *endpoint.IngestionPlan, src endpoint.SourceEndpoint, datasetID string, targetSize int64) *endpoint.IngestionPlan {
	if plan == nil {
		plan = &endpoint.IngestionPlan{DatasetID: datasetID}
	}
	plan.DatasetID = datasetID
	plan.TemplateID = src.ID()
	plan.SliceCount = len(plan.Slices)
	plan.TargetSliceSize = targetSize

	if schema := resolveSchema(src, datasetID); schema != nil {
		plan.Schema = schema
		plan.CdmModelID = schema.ModelID
	}
	return plan
}

// resolveSchema follows the resolution order: CDM registry mapping for the
// endpoint's template first, then the endpoint's own GetSchema, else nil.
func resolveSchema(src endpoint.SourceEndpoint, datasetID string) *endpoint.Schema {
	for _, modelID := range endpoint.DefaultCDMRegistry().Models(src.ID()) {
		if modelMatchesDataset(modelID, datasetID) {
			return &endpoint.Schema{ModelID: modelID}
		}
	}
	schema, err := src.GetSchema(context.Background(), datasetID)
	if err != nil {
		return nil
	}
	return schema
}

// modelMatchesDataset matches declared CDM model IDs of the form
// "cdm.<datasetId>.v<n>" against the dataset being planned.
func modelMatchesDataset(modelID, datasetID string) bool {
	prefix := "cdm." + datasetID + "."
	return len(modelID) > len(prefix) && modelID[:len(prefix)] == prefix
}

// resolveTargetSliceSize looks up the caller's preferred slice size across
// the recognized key spellings, at the top level first and then nested
// under "parameters". Zero means endpoint-default.
func resolveTargetSliceSize(policy map[string]any) int64 {
	if policy == nil {
		return 0
	}
	if v := lookupAny(policy, sliceSizeKeys); v > 0 {
		return v
	}
	if nested, ok := policy["parameters"].(map[string]any); ok {
		if v := lookupAny(nested, sliceSizeKeys); v > 0 {
			return v
		}
	}
	return 0
}

func lookupAny(m map[string]any, keys []string) int64 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n := toInt64(v); n > 0 {
				return n
			}
		}
	}
	return 0
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
