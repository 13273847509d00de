// Package ingest implements the Ingestion Runner: reads records from a
// source endpoint (optionally scoped to one slice), normalizes them into
// staged envelopes, and folds the result back into the dataset checkpoint.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
)

var logger = obslog.New("ingest", os.Getenv("LOG_LEVEL"))

// chunkSize is the number of envelopes buffered before a batch is flushed.
const chunkSize = 10_000

// previewInlineCap bounds how many bytes of preview output may be returned
// inline; past it the remaining records are only counted and the result
// carries a summary stub instead of records. Preview mode writes nothing to
// staging, so the stub's recordsPath is just the request's StageRef.
const previewInlineCap = 256 * 1024

// RunRequest mirrors the runSlice operation contract.
type RunRequest struct {
	TemplateID         string
	EndpointID         string
	DatasetID          string
	UnitID             string
	Mode               string // "full" | "incremental" | "PREVIEW"
	DataMode           string // "raw" | "full" | "reset" | ""
	Policy             map[string]any
	Checkpoint         map[string]any
	Slice              *endpoint.IngestionSlice
	StagingProviderID  string
	DisableObjectStore bool
	EstimatedBytes     int64
	Filter             map[string]any
	TransientState     map[string]any
	// StageRef, when set, is the stage this slice's batches append into
	// rather than starting a new one. A multi-slice plan runs one Run call
	// per slice and threads the first call's StageRef into the rest so every
	// slice's batches land under the same stage for a single downstream
	// GetBatch pass.
	StageRef string
}

// RunResult mirrors the IngestionResult contract.
type RunResult struct {
	NewCheckpoint     map[string]any
	RecordsStaged     int64
	BytesStaged       int64
	StageRef          string
	BatchRefs         []string
	StagingProviderID string
	TransientState    map[string]any
	PreviewRecords    []endpoint.Record
	PreviewStub       map[string]any
}

// Run executes one slice of ingestion against src, staging output through
// the given registry (skipped entirely in PREVIEW mode). It does not finalize
// the stage it writes to: a caller driving a multi-slice plan threads
// RunRequest.StageRef through successive calls so every slice appends to the
// same stage, and only finalizes once every slice has been run.
func Run(ctx context.Context, src endpoint.SourceEndpoint, registry *staging.Registry, req *RunRequest) (*RunResult, error) {
	logger.Info("ingestion started", "unitId", req.UnitID, "mode", req.Mode, "dataMode", req.DataMode, "sliceId", sliceIDOf(req.Slice))
	incomingCheckpoint := req.Checkpoint
	if req.DataMode == "reset" || req.DataMode == "full" {
		incomingCheckpoint = nil
	}
	normalizedCheckpoint := checkpoint.NormalizeForRead(incomingCheckpoint)

	iter, err := openIterator(ctx, src, req, normalizedCheckpoint)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	preview := req.Mode == "PREVIEW"

	var provider staging.Provider
	if !preview {
		provider, err = registry.SelectProvider(req.StagingProviderID, req.DisableObjectStore, req.EstimatedBytes, 0)
		if err != nil {
			return nil, err
		}
	}

	vectorProfile, _ := src.(endpoint.VectorProfileProvider)

	result := &RunResult{TransientState: req.TransientState, StageRef: req.StageRef}
	stageID := fmt.Sprintf("%s-%s", req.UnitID, sliceIDOf(req.Slice))

	var chunk []staging.RecordEnvelope
	var previewRecords []endpoint.Record
	var previewBytes int
	previewTruncated := false
	batchSeq := 0

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if preview {
			chunk = chunk[:0]
			return nil
		}
		res, putErr := provider.PutBatch(ctx, &staging.PutBatchRequest{
			StageRef: result.StageRef,
			StageID:  stageID,
			SliceID:  sliceIDOf(req.Slice),
			BatchSeq: batchSeq,
			Records:  chunk,
		})
		if putErr != nil {
			logger.Warn("staging put batch failed", "unitId", req.UnitID, "error", putErr)
			return coreerr.New(coreerr.CodeStagingUnavailable, true, putErr)
		}
		result.StageRef = res.StageRef
		result.BatchRefs = append(result.BatchRefs, res.BatchRef)
		result.BytesStaged += res.Stats.Bytes
		result.RecordsStaged += int64(len(chunk))
		batchSeq++
		chunk = chunk[:0]
		return nil
	}

	for iter.Next() {
		record := iter.Value()
		if record == nil {
			continue
		}

		envelope := buildEnvelope(record, req)
		if vectorProfile != nil {
			if candidate, verr := vectorProfile.NormalizeForIndex(ctx, record); verr == nil && candidate != nil {
				envelope.VectorPayload = map[string]any{
					"nodeId":      candidate.NodeID,
					"contentText": candidate.ContentText,
					"metadata":    candidate.Metadata,
				}
			}
		}

		if preview {
			if previewBytes < previewInlineCap {
				previewRecords = append(previewRecords, record)
				if b, merr := json.Marshal(record); merr == nil {
					previewBytes += len(b)
				} else {
					previewBytes += len(fmt.Sprint(record))
				}
			} else {
				previewTruncated = true
			}
			result.RecordsStaged++
			continue
		}

		chunk = append(chunk, envelope)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, coreerr.New(coreerr.CodeUnknown, false, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	result.NewCheckpoint = deriveNewCheckpoint(iter, normalizedCheckpoint, req, result.RecordsStaged)

	if preview {
		if previewTruncated {
			result.PreviewStub = map[string]any{
				"_preview":    "staged",
				"rowCount":    result.RecordsStaged,
				"recordsPath": result.StageRef,
			}
		} else {
			result.PreviewRecords = previewRecords
		}
		return result, nil
	}

	result.StagingProviderID = req.StagingProviderID
	if provider != nil {
		result.StagingProviderID = provider.ID()
	}

	logger.Info("ingestion complete", "unitId", req.UnitID, "recordsStaged", result.RecordsStaged, "bytesStaged", result.BytesStaged)
	return result, nil
}

func openIterator(ctx context.Context, src endpoint.SourceEndpoint, req *RunRequest, normalizedCheckpoint map[string]any) (endpoint.Iterator[endpoint.Record], error) {
	if req.Slice != nil {
		if slicer, ok := src.(endpoint.SliceCapable); ok {
			return slicer.ReadSlice(ctx, &endpoint.SliceReadRequest{
				DatasetID:  req.DatasetID,
				Slice:      req.Slice,
				Checkpoint: normalizedCheckpoint,
				Filter:     req.Filter,
			})
		}
	}
	return src.Read(ctx, &endpoint.ReadRequest{
		DatasetID:  req.DatasetID,
		Checkpoint: normalizedCheckpoint,
		Filter:     req.Filter,
	})
}

func sliceIDOf(slice *endpoint.IngestionSlice) string {
	if slice == nil {
		return "full"
	}
	return slice.SliceID
}

// buildEnvelope derives entityType, logicalId and displayName and wraps the
// record in the sealed staging envelope.
func buildEnvelope(record endpoint.Record, req *RunRequest) staging.RecordEnvelope {
	logicalID := firstNonEmptyString(record, "_externalId", "sha", "issueId", "number")
	if logicalID == "" {
		logicalID = fmt.Sprintf("%s-%d", req.UnitID, time.Now().UnixNano())
	}

	entityKind := req.DatasetID
	if v, ok := record["_entity"].(string); ok && v != "" {
		entityKind = v
	} else if v, ok := record["_entityKind"].(string); ok && v != "" {
		entityKind = v
	}

	displayName := logicalID
	if v, ok := record["title"].(string); ok && v != "" {
		displayName = v
	} else if v, ok := record["path"].(string); ok && v != "" {
		displayName = v
	}

	return staging.RecordEnvelope{
		RecordKind:  "raw",
		EntityKind:  entityKind,
		DisplayName: displayName,
		Source: staging.SourceRef{
			EndpointID:   req.EndpointID,
			SourceFamily: req.TemplateID,
			SourceID:     req.DatasetID,
			ExternalID:   logicalID,
		},
		Payload:    record,
		ObservedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func firstNonEmptyString(record endpoint.Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case int, int64, float64:
				return fmt.Sprint(s)
			}
		}
	}
	return ""
}

// deriveNewCheckpoint takes the iterator's terminal cursor (if any), merges
// it onto the incoming checkpoint, drops any residual map-shaped cursor
// (legacy safeguard — only scalar cursors survive a runner pass), and stamps
// run bookkeeping fields.
func deriveNewCheckpoint(iter endpoint.Iterator[endpoint.Record], incoming map[string]any, req *RunRequest, recordsStaged int64) map[string]any {
	updates := map[string]any{}
	if aware, ok := iter.(endpoint.CheckpointAware); ok {
		if cp := aware.Checkpoint(); cp != nil {
			for k, v := range cp {
				updates[k] = v
			}
		}
	}

	merged := checkpoint.Merge(incoming, updates)
	if _, isMap := merged["cursor"].(map[string]any); isMap {
		delete(merged, "cursor")
	}

	merged["lastRunAt"] = time.Now().UTC().Format(time.RFC3339)
	merged["recordCount"] = recordsStaged
	merged["dataMode"] = req.DataMode
	return merged
}
