// Package indexer consumes staged (preferred) or live (legacy) records,
// normalizes them into vector entries, embeds the ones whose content
// actually changed, and upserts them into the vector store.
package indexer

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/internal/vectorprofile"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

const kbEventsTable = "kbevents"

var logger = obslog.New("indexer", os.Getenv("LOG_LEVEL"))

// RunRequest mirrors the indexing-activity request contract. Exactly one of
// (StageRef + BatchRefs) or Source should be supplied; staged input is
// preferred when both are present.
type RunRequest struct {
	TenantID    string
	ProjectID   string
	ProfileID   string
	SourceFamily string
	CdmModelID  string
	DatasetSlug string
	RunID       string

	Checkpoint map[string]any

	StagingProviderID string
	StageRef           string
	BatchRefs          []string

	Source endpoint.SourceEndpoint
}

// RunResult summarizes one indexing pass.
type RunResult struct {
	RecordsRead            int64
	RecordsIndexed         int64
	Skipped                int64
	VectorPayloadFallbacks int64
	NewCheckpoint          map[string]any
	KBEventsPath           string
}

// Run executes the indexing algorithm: resolve a profile, normalize each
// record, dedup against the stored content hash, embed and upsert whatever
// changed, and persist both the new checkpoint and a KB event log.
func Run(ctx context.Context, registry *staging.Registry, cpStore *checkpoint.Store, vecStore vectorstore.Store, embedder EmbeddingProvider, logs logstore.Store, req *RunRequest) (*RunResult, error) {
	logger.Info("indexing started", "runId", req.RunID, "datasetSlug", req.DatasetSlug)
	profileID := resolveProfileID(req)
	useStaging := req.StageRef != "" && len(req.BatchRefs) > 0

	type candidate struct {
		entry   vectorstore.Entry
		content string
	}

	var (
		result     RunResult
		candidates []candidate
		lastBatch  string
		lastOffset int
	)

	processRecord := func(rec map[string]any) {
		result.RecordsRead++

		var entry vectorstore.Entry
		var content string
		var ok bool

		if vp, hasVector := rec["vectorPayload"].(map[string]any); hasVector && vp != nil {
			nodeID := asString(vp["nodeId"])
			text := asString(vp["contentText"])
			if nodeID != "" && text != "" {
				entry = vectorstore.Entry{
					TenantID:     req.TenantID,
					ProjectID:    req.ProjectID,
					ProfileID:    profileID,
					NodeID:       nodeID,
					SourceFamily: req.SourceFamily,
					DatasetSlug:  req.DatasetSlug,
					ContentText:  text,
				}
				if meta, isMap := vp["metadata"].(map[string]any); isMap {
					entry.Metadata = meta
				}
				content = text
				ok = true
			} else {
				result.VectorPayloadFallbacks++
			}
		}

		if !ok {
			entry, content, ok = vectorprofile.Resolve(profileID).Normalize(rec)
			if ok {
				entry.TenantID = orElse(entry.TenantID, req.TenantID)
				entry.ProjectID = orElse(entry.ProjectID, req.ProjectID)
				entry.ProfileID = orElse(entry.ProfileID, profileID)
				entry.DatasetSlug = orElse(entry.DatasetSlug, req.DatasetSlug)
				entry.SourceFamily = orElse(entry.SourceFamily, req.SourceFamily)
			}
		}

		if !ok {
			result.Skipped++
			return
		}
		entry.RunID = req.RunID
		candidates = append(candidates, candidate{entry: entry, content: content})
	}

	if useStaging {
		provider, ok := registry.Get(req.StagingProviderID)
		if !ok {
			return nil, coreerr.New(coreerr.CodeStagingUnavailable, false, fmt.Errorf("staging provider %q not registered", req.StagingProviderID))
		}
		offset := 0
		for _, batchRef := range req.BatchRefs {
			envelopes, err := provider.GetBatch(ctx, req.StageRef, batchRef)
			if err != nil {
				return nil, coreerr.New(coreerr.CodeStagingUnavailable, true, err)
			}
			lastBatch = batchRef
			for _, env := range envelopes {
				rec := map[string]any{"payload": env.Payload}
				if env.VectorPayload != nil {
					rec["vectorPayload"] = env.VectorPayload
				}
				processRecord(rec)
				offset++
			}
		}
		lastOffset = offset
	} else {
		if req.Source == nil {
			return nil, fmt.Errorf("indexer: no staged input and no live source supplied")
		}
		iter, err := req.Source.Read(ctx, &endpoint.ReadRequest{
			DatasetID:  req.DatasetSlug,
			Checkpoint: checkpoint.NormalizeForRead(req.Checkpoint),
		})
		if err != nil {
			return nil, err
		}
		defer iter.Close()
		for iter.Next() {
			processRecord(iter.Value())
		}
		if err := iter.Err(); err != nil {
			return nil, coreerr.New(coreerr.CodeUnknown, false, err)
		}
		if aware, ok := iter.(endpoint.CheckpointAware); ok {
			result.NewCheckpoint = checkpoint.Merge(req.Checkpoint, aware.Checkpoint())
		}
	}

	var (
		needsEmbedding []vectorstore.Entry
		needsContents  []string
		needsHashes    []string
	)
	for _, c := range candidates {
		currentHash := hashContent(c.content)
		existingHash := loadContentHash(ctx, cpStore, req.TenantID, req.ProjectID, profileID, c.entry.NodeID)
		if existingHash != "" && existingHash == currentHash {
			result.Skipped++
			continue
		}
		entry := c.entry
		if entry.Metadata == nil {
			entry.Metadata = map[string]any{}
		}
		entry.Metadata["contentHash"] = currentHash
		needsEmbedding = append(needsEmbedding, entry)
		needsContents = append(needsContents, c.content)
		needsHashes = append(needsHashes, currentHash)
	}

	var kbEvents []logstore.Record
	var kbSeq int64

	if len(needsEmbedding) > 0 {
		logger.Info("embedding batch", "runId", req.RunID, "count", len(needsContents), "model", embedder.ModelName())
		embeddings, err := embedder.EmbedText(ctx, "", needsContents)
		if err != nil {
			logger.Error("embedding batch failed", "runId", req.RunID, "error", err)
			return nil, coreerr.New(coreerr.CodeIndexFailed, false, fmt.Errorf("embed batch: %w", err))
		}
		if len(embeddings) != len(needsEmbedding) {
			return nil, coreerr.New(coreerr.CodeIndexFailed, false, fmt.Errorf("embedding count mismatch: got %d want %d", len(embeddings), len(needsEmbedding)))
		}
		for i := range needsEmbedding {
			needsEmbedding[i].Embedding = embeddings[i]
			needsEmbedding[i].Metadata["embeddingModel"] = embedder.ModelName()
		}

		if err := vecStore.UpsertEntries(ctx, needsEmbedding); err != nil {
			return nil, coreerr.New(coreerr.CodeIndexFailed, false, fmt.Errorf("upsert entries: %w", err))
		}

		for i, entry := range needsEmbedding {
			saveContentHash(ctx, cpStore, req.TenantID, req.ProjectID, profileID, entry.NodeID, needsHashes[i])
			kbSeq++
			sum := sha1.Sum([]byte(entry.NodeID + req.RunID))
			kbEvents = append(kbEvents, logstore.Record{
				RunID:       req.RunID,
				DatasetSlug: req.DatasetSlug,
				Op:          "upsert_node",
				Kind:        "vector_entry",
				ID:          entry.NodeID,
				Hash:        fmt.Sprintf("%x", sum[:6]),
				Seq:         kbSeq,
				At:          time.Now().UTC().Format(time.RFC3339),
			})
		}
		result.RecordsIndexed = int64(len(needsEmbedding))
	}

	if useStaging {
		result.NewCheckpoint = map[string]any{}
		if lastBatch != "" {
			result.NewCheckpoint["batchRef"] = lastBatch
			result.NewCheckpoint["recordOffset"] = lastOffset
		}
	} else if result.NewCheckpoint == nil {
		result.NewCheckpoint = map[string]any{}
	}
	if req.RunID != "" {
		result.NewCheckpoint["runId"] = req.RunID
	}

	key := checkpoint.IndexerKey(profileID, req.DatasetSlug)
	if _, err := cpStore.Save(ctx, req.TenantID, req.ProjectID, key, result.NewCheckpoint); err != nil {
		return nil, err
	}

	if logs != nil && len(kbEvents) > 0 {
		_ = logs.CreateTable(ctx, kbEventsTable)
		path, err := logs.Append(ctx, kbEventsTable, req.RunID, kbEvents)
		if err == nil {
			result.KBEventsPath = path
		}
	}

	logger.Info("indexing complete", "runId", req.RunID, "recordsIndexed", result.RecordsIndexed, "skipped", result.Skipped)
	return &result, nil
}

// resolveProfileID follows the priority order: explicit request, then
// CDM-derived "cdm.<suffix>.v1", then a source-family heuristic, then the
// generic fallback.
func resolveProfileID(req *RunRequest) string {
	if req.ProfileID != "" {
		return req.ProfileID
	}
	if req.CdmModelID != "" {
		return fmt.Sprintf("cdm.%s.v1", strings.TrimPrefix(req.CdmModelID, "cdm."))
	}
	switch strings.ToLower(req.SourceFamily) {
	case "github":
		if strings.Contains(strings.ToLower(req.DatasetSlug), "issue") {
			return "source.github.issues.v1"
		}
		return "source.github.code.v1"
	case "jira":
		return "source.jira.issues.v1"
	case "confluence":
		return "source.confluence.pages.v1"
	case "onedrive":
		return "source.onedrive.docs.v1"
	default:
		return "source.generic.v1"
	}
}

func loadContentHash(ctx context.Context, cpStore *checkpoint.Store, tenantID, projectID, profileID, nodeID string) string {
	m, err := cpStore.Load(ctx, tenantID, projectID, checkpoint.EmbeddingHashKey(profileID, nodeID))
	if err != nil || m == nil {
		return ""
	}
	hash, _ := m["contentHash"].(string)
	return hash
}

func saveContentHash(ctx context.Context, cpStore *checkpoint.Store, tenantID, projectID, profileID, nodeID, contentHash string) {
	_, _ = cpStore.Save(ctx, tenantID, projectID, checkpoint.EmbeddingHashKey(profileID, nodeID), map[string]any{"contentHash": contentHash})
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func orElse(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
