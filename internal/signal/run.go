package signal

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
)

const kbEventsTable = "kbevents"

var logger = obslog.New("signal", os.Getenv("LOG_LEVEL"))

// RunRequest mirrors the signal-extraction activity request contract.
// Exactly one of (StageRef + BatchRefs) or Source should be supplied;
// staged input is preferred when both are present.
type RunRequest struct {
	TenantID     string
	ProjectID    string
	SourceFamily string
	DatasetSlug  string
	RunID        string

	Checkpoint map[string]any

	StagingProviderID string
	StageRef           string
	BatchRefs          []string

	Source endpoint.SourceEndpoint
}

// RunResult summarizes one signal-extraction pass.
type RunResult struct {
	RecordsRead  int64
	Created      int64
	Updated      int64
	Resolved     int64
	KBEventsPath string
}

// Run evaluates every applicable definition against a dataset's records,
// reconciles the resulting instances against what was previously open
// (marking unmatched prior instances RESOLVED), reflects instances into
// the knowledge graph, and emits a KB event log.
func Run(ctx context.Context, registry *staging.Registry, store Store, kg KGClient, logs logstore.Store, req *RunRequest) (*RunResult, error) {
	logger.Info("signal run started", "runId", req.RunID, "datasetSlug", req.DatasetSlug, "sourceFamily", req.SourceFamily)
	defs, err := store.ListDefinitions(ctx, req.SourceFamily)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	if len(defs) == 0 {
		def := &Definition{
			Slug:         fmt.Sprintf("auto.%s", req.DatasetSlug),
			Title:        fmt.Sprintf("Auto signals for %s", req.DatasetSlug),
			Description:  "Auto-generated signals from ingestion artifacts",
			Status:       "ACTIVE",
			ImplMode:     "CODE",
			SourceFamily: req.SourceFamily,
			EntityKind:   req.DatasetSlug,
			Severity:     "INFO",
		}
		id, err := store.UpsertDefinition(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("upsert signal definition: %w", err)
		}
		def.ID = id
		defs = append(defs, def)
	}

	eng := newEngine(defs)

	existing := map[string]map[string]*Instance{}
	for _, def := range defs {
		insts, _ := store.ListInstances(ctx, def.ID)
		byRef := map[string]*Instance{}
		for _, inst := range insts {
			byRef[inst.EntityRef] = inst
		}
		existing[def.ID] = byRef
	}
	seen := map[string]map[string]bool{}

	var result RunResult
	var kbEvents []logstore.Record
	var kbSeq int64
	now := time.Now().UTC().Format(time.RFC3339)

	processRecord := func(rec map[string]any) error {
		result.RecordsRead++
		for _, inst := range eng.eval(rec, req.DatasetSlug, req.SourceFamily, req.RunID) {
			if seen[inst.DefinitionID] == nil {
				seen[inst.DefinitionID] = map[string]bool{}
			}
			if _, exists := existing[inst.DefinitionID][inst.EntityRef]; exists {
				result.Updated++
			} else {
				result.Created++
			}
			seen[inst.DefinitionID][inst.EntityRef] = true

			if err := store.UpsertInstance(ctx, inst); err != nil {
				return fmt.Errorf("upsert signal instance: %w", err)
			}
			if kg != nil {
				if err := upsertSignalToKG(ctx, kg, inst, req, defs); err != nil {
					return fmt.Errorf("kg upsert: %w", err)
				}
			}
			kbSeq++
			h := sha1.Sum([]byte(inst.DefinitionID + inst.EntityRef + req.RunID))
			kbEvents = append(kbEvents, logstore.Record{
				RunID: req.RunID, DatasetSlug: req.DatasetSlug, Op: "upsert_node", Kind: "signal",
				ID: fmt.Sprintf("signal:%s:%s", inst.DefinitionID, inst.EntityRef), Hash: fmt.Sprintf("%x", h[:6]),
				Seq: kbSeq, At: now,
			})
		}
		return nil
	}

	useStaging := req.StageRef != "" && len(req.BatchRefs) > 0
	if useStaging {
		provider, ok := registry.Get(req.StagingProviderID)
		if !ok {
			return nil, fmt.Errorf("staging provider %q not registered", req.StagingProviderID)
		}
		for _, batchRef := range req.BatchRefs {
			envelopes, err := provider.GetBatch(ctx, req.StageRef, batchRef)
			if err != nil {
				return nil, err
			}
			for _, env := range envelopes {
				if err := processRecord(env.Payload); err != nil {
					return nil, err
				}
			}
		}
	} else {
		if req.Source == nil {
			return nil, fmt.Errorf("signal: no staged input and no live source supplied")
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
			if err := processRecord(iter.Value()); err != nil {
				return nil, err
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}

	for defID, defExisting := range existing {
		defSeen := seen[defID]
		for entityRef, inst := range defExisting {
			if defSeen != nil && defSeen[entityRef] {
				continue
			}
			if inst.Status == "RESOLVED" || inst.Status == "SUPPRESSED" {
				continue
			}
			if err := store.UpdateInstanceStatus(ctx, defID, entityRef, "RESOLVED"); err != nil {
				logger.Warn("auto-resolve failed", "definitionId", defID, "entityRef", entityRef, "error", err)
				continue
			}
			result.Resolved++
		}
	}

	if logs != nil && len(kbEvents) > 0 {
		_ = logs.CreateTable(ctx, kbEventsTable)
		if path, err := logs.Append(ctx, kbEventsTable, req.RunID, kbEvents); err == nil {
			result.KBEventsPath = path
		}
	}

	logger.Info("signal run complete", "runId", req.RunID, "created", result.Created, "updated", result.Updated, "resolved", result.Resolved)
	return &result, nil
}

func upsertSignalToKG(ctx context.Context, kg KGClient, inst *Instance, req *RunRequest, defs []*Definition) error {
	title := inst.Summary
	for _, d := range defs {
		if d.ID == inst.DefinitionID && d.Title != "" {
			title = d.Title
			break
		}
	}
	signalNodeID := fmt.Sprintf("signal:%s:%s", inst.DefinitionID, inst.EntityRef)
	if err := kg.UpsertNode(ctx, req.TenantID, req.ProjectID, Node{
		ID:   signalNodeID,
		Type: "signal",
		Properties: map[string]string{
			"definitionId": inst.DefinitionID,
			"entityRef":    inst.EntityRef,
			"entityKind":   inst.EntityKind,
			"severity":     inst.Severity,
			"title":        title,
		},
	}); err != nil {
		return err
	}
	if err := kg.UpsertEdge(ctx, req.TenantID, req.ProjectID, Edge{
		ID: fmt.Sprintf("signal-def:%s:%s", inst.DefinitionID, inst.EntityRef), Type: "instance_of",
		FromID: signalNodeID, ToID: inst.DefinitionID,
		Properties: map[string]string{"severity": inst.Severity},
	}); err != nil {
		return err
	}
	return kg.UpsertEdge(ctx, req.TenantID, req.ProjectID, Edge{
		ID: fmt.Sprintf("signal-entity:%s:%s", inst.DefinitionID, inst.EntityRef), Type: "flags",
		FromID: signalNodeID, ToID: inst.EntityRef,
		Properties: map[string]string{"severity": inst.Severity},
	})
}
