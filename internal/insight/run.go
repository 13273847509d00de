package insight

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
)

const kbEventsTable = "kbevents"

var logger = obslog.New("insight", os.Getenv("LOG_LEVEL"))

// RunRequest mirrors the insight-extraction activity request contract.
// Exactly one of (StageRef + BatchRefs) or Source should be supplied;
// staged input is preferred when both are present.
type RunRequest struct {
	TenantID     string
	ProjectID    string
	SourceFamily string
	DatasetSlug  string
	ArtifactID   string
	RunID        string

	Checkpoint map[string]any

	StagingProviderID string
	StageRef           string
	BatchRefs          []string

	Source endpoint.SourceEndpoint
}

// Counters tallies per-run outcomes for observability; the operation
// manager surfaces Parsed as its insightsParsed stat.
type Counters struct {
	SkippedMissing uint64
	SkippedCache   uint64
	LLMErrors      uint64
	Parsed         uint64
}

func (c *Counters) incMissing() { atomic.AddUint64(&c.SkippedMissing, 1) }
func (c *Counters) incCache()   { atomic.AddUint64(&c.SkippedCache, 1) }
func (c *Counters) incErr()     { atomic.AddUint64(&c.LLMErrors, 1) }
func (c *Counters) incParsed()  { atomic.AddUint64(&c.Parsed, 1) }

// RunResult summarizes one insight-extraction pass.
type RunResult struct {
	RecordsRead  int64
	Counters     Counters
	KBEventsPath string
}

// Run picks a skill per record by source family, builds gated params,
// dedups on a content signature, calls the LLM client (falling back to a
// deterministic payload echo on error or when no client is configured),
// validates and reflects results into the knowledge graph, and emits a
// KB event log.
func Run(ctx context.Context, registry *staging.Registry, skills *Registry, kv checkpoint.KV, client *Client, kg KGClient, logs logstore.Store, req *RunRequest) (*RunResult, error) {
	logger.Info("insight run started", "runId", req.RunID, "datasetSlug", req.DatasetSlug, "sourceFamily", req.SourceFamily)
	var result RunResult
	var kbEvents []logstore.Record
	var kbSeq int64
	var idx int
	now := time.Now().UTC().Format(time.RFC3339)

	processRecord := func(rec map[string]any) error {
		result.RecordsRead++
		entityRef := deriveEntityRef(rec)
		if entityRef == "" {
			return nil
		}
		profileID := Select(req.SourceFamily)
		skill := skills.Get(profileID)

		payload, _ := rec["payload"].(map[string]any)
		entityKind, _ := rec["entityKind"].(string)
		if skill.PreferCDM {
			payload = applyCDMMapper(req.DatasetSlug, entityKind, payload)
		}
		if payload == nil {
			payload = map[string]any{}
		}

		params, ok := buildParams(skill, payload, entityKind)
		if !ok {
			result.Counters.incMissing()
			return nil
		}

		sig := hashSignature(skill.ID, entityRef, params)
		if prev, _ := loadSignature(ctx, kv, req.TenantID, req.ProjectID, skill.ID, entityRef); prev != "" && prev == sig {
			result.Counters.incCache()
			return nil
		}

		var insights []Insight
		if client != nil {
			list, llmErr := client.Summarize(ctx, skill, params)
			switch {
			case len(list) > 0:
				insights = list
			case llmErr != nil:
				result.Counters.incErr()
				logger.Warn("llm summarize failed, using fallback insight", "skillId", skill.ID, "entityRef", entityRef, "error", llmErr)
			}
		}
		if len(insights) == 0 {
			insights = []Insight{fallbackInsight(rec, skill, entityRef)}
		}

		if kg != nil {
			for _, ins := range insights {
				if !validate(ins) {
					continue
				}
				result.Counters.incParsed()
				nodeID := fmt.Sprintf("insight:%s:%s:%d", req.ArtifactID, entityRef, idx)
				if err := upsertInsightToKG(ctx, kg, req, nodeID, entityRef, ins); err != nil {
					return fmt.Errorf("kg upsert: %w", err)
				}
				kbSeq++
				h := sha1.Sum([]byte(nodeID + req.RunID))
				kbEvents = append(kbEvents, logstore.Record{
					RunID: req.RunID, DatasetSlug: req.DatasetSlug, Op: "upsert_node", Kind: "insight",
					ID: nodeID, Hash: fmt.Sprintf("%x", h[:6]), Seq: kbSeq, At: now,
				})
				idx++
			}
		}
		saveSignature(ctx, kv, req.TenantID, req.ProjectID, skill.ID, entityRef, sig)
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
			return nil, fmt.Errorf("insight: no staged input and no live source supplied")
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

	if logs != nil && len(kbEvents) > 0 {
		_ = logs.CreateTable(ctx, kbEventsTable)
		if path, err := logs.Append(ctx, kbEventsTable, req.RunID, kbEvents); err == nil {
			result.KBEventsPath = path
		}
	}

	logger.Info("insight run complete", "runId", req.RunID, "parsed", result.Counters.Parsed, "llmErrors", result.Counters.LLMErrors)
	return &result, nil
}

func applyCDMMapper(datasetSlug, entityKind string, payload map[string]any) map[string]any {
	if mapper, ok := endpoint.DefaultCDMRegistry().Mapper(datasetSlug); ok {
		if mapped, err := mapper(payload); err == nil {
			payload = mapped
		}
	}
	if entityKind != "" {
		if mapper, ok := endpoint.DefaultCDMRegistry().Mapper(entityKind); ok {
			if mapped, err := mapper(payload); err == nil {
				payload = mapped
			}
		}
	}
	return payload
}

func fallbackInsight(rec map[string]any, skill Skill, entityRef string) Insight {
	summary := ""
	if payload, ok := rec["payload"]; ok {
		if b, err := json.Marshal(payload); err == nil {
			summary = string(b)
			if len(summary) > 256 {
				summary = summary[:256] + "…"
			}
		}
	}
	if summary == "" {
		summary = fmt.Sprintf("Insight for %s", entityRef)
	}
	return Insight{
		Provider:    skill.ID,
		PromptID:    skill.ID,
		EntityRef:   entityRef,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Summary:     Summary{Text: summary, Confidence: 0},
		Sentiment:   Sentiment{Label: "neutral", Score: 0},
		Signals:     []Signal{},
	}
}

func upsertInsightToKG(ctx context.Context, kg KGClient, req *RunRequest, nodeID, entityRef string, ins Insight) error {
	props := map[string]string{
		"entityRef":          entityRef,
		"dataset":            req.DatasetSlug,
		"artifactId":         req.ArtifactID,
		"sourceFamily":       req.SourceFamily,
		"provider":           pick(ins.Provider, ins.PromptID),
		"promptId":           ins.PromptID,
		"generatedAt":        pick(ins.GeneratedAt, time.Now().UTC().Format(time.RFC3339)),
		"summary.text":       ins.Summary.Text,
		"summary.confidence": fmt.Sprintf("%f", ins.Summary.Confidence),
		"sentiment.label":    ins.Sentiment.Label,
		"sentiment.score":    fmt.Sprintf("%f", ins.Sentiment.Score),
		"escalationScore":    fmt.Sprintf("%f", ins.EscalationScore),
		"requirement":        ins.Requirement,
		"expiresAt":          ins.ExpiresAt,
	}
	if len(ins.Signals) > 0 {
		if b, err := json.Marshal(ins.Signals); err == nil {
			props["signals"] = string(b)
		}
	}
	if len(ins.Metadata) > 0 {
		if b, err := json.Marshal(ins.Metadata); err == nil {
			props["metadata"] = string(b)
		}
	}
	if err := kg.UpsertNode(ctx, req.TenantID, req.ProjectID, Node{ID: nodeID, Type: "kg.insight", Properties: props}); err != nil {
		return err
	}
	return kg.UpsertEdge(ctx, req.TenantID, req.ProjectID, Edge{
		ID: fmt.Sprintf("insight_for:%s:%s", nodeID, entityRef), Type: "INSIGHT_FOR",
		FromID: nodeID, ToID: entityRef,
	})
}

func pick(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func deriveEntityRef(rec map[string]any) string {
	if v, ok := rec["entityRef"].(string); ok && v != "" {
		return v
	}
	if v, ok := rec["id"].(string); ok && v != "" {
		return v
	}
	return ""
}

func hashSignature(skillID, entityRef string, params map[string]string) string {
	b, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(skillID+"|"+entityRef+"|"), b...))
	return hex.EncodeToString(h[:])
}

type signatureRecord struct {
	Signature   string `json:"signature"`
	GeneratedAt string `json:"generatedAt"`
}

func loadSignature(ctx context.Context, kv checkpoint.KV, tenantID, projectID, skillID, entityRef string) (string, error) {
	value, _, found, err := kv.Get(ctx, tenantID, projectID, checkpoint.InsightKey(skillID, entityRef))
	if err != nil || !found {
		return "", err
	}
	var rec signatureRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return "", nil
	}
	return rec.Signature, nil
}

// saveSignature overwrites the cached signature for (skillID, entityRef).
// Writes are single-writer per key (no concurrent run touches the same
// entity under the same skill), so a single re-read-on-conflict retry is
// enough rather than the bounded CAS loop the centroid cache needs.
func saveSignature(ctx context.Context, kv checkpoint.KV, tenantID, projectID, skillID, entityRef, signature string) {
	key := checkpoint.InsightKey(skillID, entityRef)
	encoded, err := json.Marshal(signatureRecord{Signature: signature, GeneratedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		return
	}
	_, version, found, err := kv.Get(ctx, tenantID, projectID, key)
	if err != nil {
		return
	}
	expected := int64(0)
	if found {
		expected = version
	}
	if err := kv.Put(ctx, tenantID, projectID, key, encoded, expected); err != nil {
		if _, v, found, err2 := kv.Get(ctx, tenantID, projectID, key); err2 == nil && found {
			_ = kv.Put(ctx, tenantID, projectID, key, encoded, v)
		}
	}
}
