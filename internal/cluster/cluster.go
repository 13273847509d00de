// Package cluster groups vector-indexed entities by embedding similarity
// and materializes the result as cluster nodes and membership/relation
// edges in the knowledge graph.
package cluster

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

var logger = obslog.New("cluster", os.Getenv("LOG_LEVEL"))

// Defaults for the greedy/graph thresholds and max cluster size, overridable
// per-call via RunRequest so callers don't need an env-var indirection to
// exercise non-default behavior in tests.
const (
	DefaultSimThreshold   float32 = 0.35
	DefaultGraphThreshold float32 = 0.45
	DefaultMaxClusterSize int     = 5
)

// Node is the subset of knowledge-graph node fields the cluster builder
// writes.
type Node struct {
	ID         string
	Type       string
	Properties map[string]string
}

// Edge is the subset of knowledge-graph edge fields the cluster builder
// writes.
type Edge struct {
	ID     string
	Type   string
	FromID string
	ToID   string
}

// KGClient is the minimal knowledge-graph write surface the cluster builder
// depends on. Implemented by pkg/kgclient against the KG gRPC service.
type KGClient interface {
	UpsertNode(ctx context.Context, tenantID, projectID string, node Node) error
	UpsertEdge(ctx context.Context, tenantID, projectID string, edge Edge) error
}

// RunRequest configures one cluster-building pass over a dataset's vector
// entries.
type RunRequest struct {
	TenantID       string
	ProjectID      string
	DatasetSlug    string
	SourceFamily   string
	ArtifactID     string
	RunID          string
	SinkEndpointID string

	Checkpoint map[string]any

	SimThreshold   float32
	GraphThreshold float32
	MaxClusterSize int
}

// RunResult summarizes one cluster-building pass.
type RunResult struct {
	ClustersCreated int
	MembersLinked   int
	RelatedEdges    int
	CacheHits       int
	VersionHash     string
	NewCheckpoint   map[string]any
	KBEventsPath    string
}

type edgeSummary struct {
	Src   string  `json:"src"`
	Dst   string  `json:"dst"`
	Score float32 `json:"score"`
}

type clusterStats struct {
	centroid   []float32
	size       int
	avgSim     float32
	maxSim     float32
	memberIDs  []string
	cachedAt   string
	edgeDegree int
	memberHash string
	topRelated []edgeSummary
}

type centroidCacheEntry struct {
	Centroid   []float32     `json:"centroid"`
	Size       int           `json:"size"`
	AvgSim     float32       `json:"avgSim"`
	MaxSim     float32       `json:"maxSim"`
	UpdatedAt  string        `json:"updatedAt"`
	EdgeDegree int           `json:"edgeDegree"`
	MemberHash string        `json:"memberHash"`
	TopRelated []edgeSummary `json:"topRelated"`
	Dim        int           `json:"dim"`
	updatedAt  time.Time
}

const kbEventsTable = "kbevents"
const centroidCacheMaxRetries = 5

// Run lists a dataset's vector entries, assigns them to clusters by greedy
// centroid assignment followed by connected-component refinement over a
// mutual-similarity graph, derives stable cluster IDs from sorted member
// sets, writes cluster nodes and IN_CLUSTER/RELATED edges to the knowledge
// graph, and persists both an incremental checkpoint and a centroid cache
// for the next run.
func Run(ctx context.Context, vecStore vectorstore.Store, kv checkpoint.KV, cpStore *checkpoint.Store, kg KGClient, logs logstore.Store, req *RunRequest) (*RunResult, error) {
	logger.Info("clustering started", "runId", req.RunID, "datasetSlug", req.DatasetSlug)
	simThreshold := req.SimThreshold
	if simThreshold == 0 {
		simThreshold = DefaultSimThreshold
	}
	graphThreshold := req.GraphThreshold
	if graphThreshold == 0 {
		graphThreshold = DefaultGraphThreshold
	}
	maxClusterSize := req.MaxClusterSize
	if maxClusterSize < 2 {
		maxClusterSize = DefaultMaxClusterSize
	}

	var since *time.Time
	if ts, ok := req.Checkpoint["lastUpdatedAt"].(string); ok && ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			since = &t
		}
	}

	entries, err := vecStore.ListEntries(ctx, vectorstore.QueryFilter{
		TenantID:       req.TenantID,
		ProjectID:      req.ProjectID,
		DatasetSlug:    req.DatasetSlug,
		SourceFamily:   req.SourceFamily,
		SinkEndpointID: req.SinkEndpointID,
		SinceUpdatedAt: since,
		Limit:          300,
	}, 300)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &RunResult{NewCheckpoint: req.Checkpoint}, nil
	}

	var latestUpdated time.Time
	for _, e := range entries {
		if e.UpdatedAt != nil && e.UpdatedAt.After(latestUpdated) {
			latestUpdated = *e.UpdatedAt
		}
	}

	assignments, clusterCount := assignClusters(entries, simThreshold, maxClusterSize, req.DatasetSlug)
	if len(assignments) == 0 {
		return &RunResult{NewCheckpoint: req.Checkpoint}, nil
	}
	_ = clusterCount

	components, edgeMap := buildComponents(entries, graphThreshold)
	if refined := refineWithComponents(components, req.DatasetSlug); len(refined) > 0 {
		assignments = refined
	}

	clusterMembers := map[string][]string{}
	for node, cid := range assignments {
		clusterMembers[cid] = append(clusterMembers[cid], node)
	}
	stableIDs := map[string]string{}
	for cid, members := range clusterMembers {
		stableIDs[cid] = makeStableClusterID(req.DatasetSlug, req.SourceFamily, members)
	}

	cacheEntries, cacheVersion := loadCentroidCache(ctx, kv, req.TenantID, req.ProjectID, req.DatasetSlug)
	cacheHits := 0
	finalClusters := map[string]*clusterStats{}

	for cid, members := range clusterMembers {
		sid := stableIDs[cid]
		cs := finalClusters[sid]
		if cs == nil {
			cs = &clusterStats{}
			finalClusters[sid] = cs
		}
		cs.size += len(members)
		cs.memberIDs = append(cs.memberIDs, members...)
		cs.memberHash = makeStableClusterID(req.DatasetSlug, req.SourceFamily, members)

		if entry, ok := cacheEntries[sid]; ok && len(entry.Centroid) > 0 && entry.MemberHash == cs.memberHash &&
			(latestUpdated.IsZero() || !entry.updatedAt.Before(latestUpdated)) {
			cs.centroid = entry.Centroid
			cs.avgSim = entry.AvgSim
			cs.maxSim = entry.MaxSim
			cs.cachedAt = entry.UpdatedAt
			cs.edgeDegree = entry.EdgeDegree
			cs.topRelated = entry.TopRelated
			cacheHits++
			continue
		}

		count := 0
		for _, m := range members {
			for _, e := range entries {
				if e.NodeID == m && len(e.Embedding) > 0 {
					count++
					cs.centroid = avgVec(cs.centroid, e.Embedding, count)
				}
			}
		}
	}

	for _, cs := range finalClusters {
		if len(cs.centroid) == 0 {
			continue
		}
		var sumSim float32
		var count int
		for _, m := range cs.memberIDs {
			for _, e := range entries {
				if e.NodeID == m && len(e.Embedding) > 0 {
					s := cosineSim(e.Embedding, cs.centroid)
					sumSim += s
					if s > cs.maxSim {
						cs.maxSim = s
					}
					count++
				}
			}
		}
		if count > 0 {
			cs.avgSim = sumSim / float32(count)
		}
	}

	clusterKind := "episode"
	if req.SourceFamily != "" {
		clusterKind = strings.ToLower(req.SourceFamily)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var kbEvents []logstore.Record
	var seq int64

	topEdges := map[string][]edgeSummary{}

	relatedSeen := map[string]struct{}{}
	relatedCount := 0
	for src, neighbors := range edgeMap {
		for _, dst := range neighbors {
			key := src + "->" + dst
			if _, seen := relatedSeen[key]; seen {
				continue
			}
			relatedSeen[key] = struct{}{}
			relatedCount++

			score := cosineSim(findEmb(entries, src), findEmb(entries, dst))
			if cid, ok := assignments[src]; ok {
				if cs, ok := finalClusters[stableIDs[cid]]; ok {
					cs.edgeDegree++
					topEdges[stableIDs[cid]] = append(topEdges[stableIDs[cid]], edgeSummary{Src: src, Dst: dst, Score: score})
				}
			}
			if cid, ok := assignments[dst]; ok {
				if cs, ok := finalClusters[stableIDs[cid]]; ok {
					cs.edgeDegree++
					topEdges[stableIDs[cid]] = append(topEdges[stableIDs[cid]], edgeSummary{Src: src, Dst: dst, Score: score})
				}
			}

			if kg != nil {
				_ = kg.UpsertEdge(ctx, req.TenantID, req.ProjectID, Edge{
					ID: fmt.Sprintf("related:%s:%s", src, dst), Type: "RELATED", FromID: src, ToID: dst,
				})
			}
			seq++
			hash := sha1.Sum([]byte(key + req.RunID))
			kbEvents = append(kbEvents, logstore.Record{
				RunID: req.RunID, DatasetSlug: req.DatasetSlug, Op: "upsert_edge", Kind: "RELATED",
				ID: key, Hash: fmt.Sprintf("%x", hash[:6]), Seq: seq, At: now,
			})
		}
	}

	for sid, cs := range finalClusters {
		if edges := topEdges[sid]; len(edges) > 0 {
			sort.Slice(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })
			if len(edges) > 5 {
				edges = edges[:5]
			}
			cs.topRelated = edges
		}
		seq++
		nodeHash := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s|%s|%s", sid, cs.size, cs.memberHash, cs.cachedAt, req.RunID)))
		kbEvents = append(kbEvents, logstore.Record{
			RunID: req.RunID, DatasetSlug: req.DatasetSlug, Op: "upsert_node", Kind: "kg.cluster",
			ID: sid, Hash: fmt.Sprintf("%x", nodeHash[:6]), Seq: seq, At: now,
		})
		if kg != nil {
			_ = kg.UpsertNode(ctx, req.TenantID, req.ProjectID, Node{
				ID: sid, Type: "kg.cluster",
				Properties: map[string]string{
					"clusterKind":    clusterKind,
					"dataset":        req.DatasetSlug,
					"artifactId":     req.ArtifactID,
					"runId":          req.RunID,
					"sinkEndpointId": req.SinkEndpointID,
					"sourceFamily":   req.SourceFamily,
					"updatedAt":      now,
					"size":           fmt.Sprintf("%d", cs.size),
					"avgSim":         fmt.Sprintf("%.4f", cs.avgSim),
					"maxSim":         fmt.Sprintf("%.4f", cs.maxSim),
					"edgeDegree":     fmt.Sprintf("%d", cs.edgeDegree),
					"memberHash":     cs.memberHash,
				},
			})
		}
	}

	for nodeID, cid := range assignments {
		sid := stableIDs[cid]
		if kg != nil {
			_ = kg.UpsertEdge(ctx, req.TenantID, req.ProjectID, Edge{
				ID: fmt.Sprintf("in_cluster:%s:%s", sid, nodeID), Type: "IN_CLUSTER", FromID: sid, ToID: nodeID,
			})
		}
		seq++
		edgeID := fmt.Sprintf("in_cluster:%s:%s", sid, nodeID)
		hash := sha1.Sum([]byte(edgeID + req.RunID))
		kbEvents = append(kbEvents, logstore.Record{
			RunID: req.RunID, DatasetSlug: req.DatasetSlug, Op: "upsert_edge", Kind: "IN_CLUSTER",
			ID: edgeID, Hash: fmt.Sprintf("%x", hash[:6]), Seq: seq, At: now,
		})
	}

	cpTime := now
	if !latestUpdated.IsZero() {
		cpTime = latestUpdated.UTC().Format(time.RFC3339)
	}
	newCheckpoint, err := cpStore.Save(ctx, req.TenantID, req.ProjectID, checkpoint.ClusterKey(req.DatasetSlug), map[string]any{"lastUpdatedAt": cpTime})
	if err != nil {
		return nil, err
	}

	saveCentroidCache(ctx, kv, req.TenantID, req.ProjectID, req.DatasetSlug, finalClusters, cacheVersion)

	versionHash := sha1.Sum([]byte(strings.Join(sortedKeys(finalClusters), "|")))

	result := &RunResult{
		ClustersCreated: len(finalClusters),
		MembersLinked:   len(assignments),
		RelatedEdges:    relatedCount,
		CacheHits:       cacheHits,
		VersionHash:     fmt.Sprintf("%x", versionHash[:6]),
		NewCheckpoint:   newCheckpoint,
	}

	if logs != nil && len(kbEvents) > 0 {
		_ = logs.CreateTable(ctx, kbEventsTable)
		if path, err := logs.Append(ctx, kbEventsTable, req.RunID, kbEvents); err == nil {
			result.KBEventsPath = path
		}
	}

	logger.Info("clustering complete", "runId", req.RunID, "clustersCreated", result.ClustersCreated, "membersLinked", result.MembersLinked)
	return result, nil
}

// assignClusters performs the greedy first-fit-by-similarity pass: each
// entry joins the highest-similarity cluster that has not yet hit
// maxClusterSize, provided that similarity is at or above simThreshold, or
// seeds a new cluster otherwise.
func assignClusters(entries []vectorstore.Entry, simThreshold float32, maxClusterSize int, datasetSlug string) (map[string]string, int) {
	type centroid struct {
		vec []float32
		n   int
		id  string
	}
	var clusters []centroid
	assignments := map[string]string{}
	seq := 0

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		bestIdx := -1
		bestSim := float32(-1)
		for idx, c := range clusters {
			if c.n >= maxClusterSize {
				continue
			}
			if sim := cosineSim(e.Embedding, c.vec); sim > bestSim {
				bestSim = sim
				bestIdx = idx
			}
		}
		if bestIdx >= 0 && bestSim >= simThreshold {
			assignments[e.NodeID] = clusters[bestIdx].id
			clusters[bestIdx].vec = avgVec(clusters[bestIdx].vec, e.Embedding, clusters[bestIdx].n+1)
			clusters[bestIdx].n++
		} else {
			seq++
			cid := fmt.Sprintf("cluster:%s:%d", datasetSlug, seq)
			clusters = append(clusters, centroid{vec: e.Embedding, n: 1, id: cid})
			assignments[e.NodeID] = cid
		}
	}
	return assignments, len(clusters)
}

// refineWithComponents merges greedy assignments wherever a
// connected-component in the mutual-similarity graph has more than one
// member, since component membership implies mutual similarity the
// one-pass greedy assignment may have missed. Singleton components get no
// entry. When the returned map is non-empty the caller replaces the greedy
// assignment with it wholesale, so nodes in singleton components end up
// unassigned; only an empty map leaves the greedy assignment in place.
func refineWithComponents(components [][]string, datasetSlug string) map[string]string {
	refined := map[string]string{}
	seq := 0
	for _, comp := range components {
		if len(comp) < 2 {
			continue
		}
		seq++
		cid := fmt.Sprintf("cluster:%s:cc%d", datasetSlug, seq)
		for _, nodeID := range comp {
			refined[nodeID] = cid
		}
	}
	return refined
}

// buildComponents computes connected components over entries using a
// similarity threshold, returning both the components and the raw
// adjacency used to emit RELATED edges.
func buildComponents(entries []vectorstore.Entry, threshold float32) ([][]string, map[string][]string) {
	var ids []string
	var emb [][]float32
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		ids = append(ids, e.NodeID)
		emb = append(emb, e.Embedding)
	}
	n := len(ids)
	graph := make([][]int, n)
	edgeMap := map[string][]string{}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineSim(emb[i], emb[j]) >= threshold {
				graph[i] = append(graph[i], j)
				graph[j] = append(graph[j], i)
				edgeMap[ids[i]] = append(edgeMap[ids[i]], ids[j])
				edgeMap[ids[j]] = append(edgeMap[ids[j]], ids[i])
			}
		}
	}
	visited := make([]bool, n)
	var comps [][]string
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		var stack = []int{i}
		var comp []string
		for len(stack) > 0 {
			k := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[k] {
				continue
			}
			visited[k] = true
			comp = append(comp, ids[k])
			for _, nei := range graph[k] {
				if !visited[nei] {
					stack = append(stack, nei)
				}
			}
		}
		if len(comp) > 0 {
			comps = append(comps, comp)
		}
	}
	return comps, edgeMap
}

func cosineSim(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func avgVec(a, b []float32, total int) []float32 {
	if len(a) == 0 {
		return append([]float32(nil), b...)
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i]*float32(total-1) + b[i]) / float32(total)
	}
	return out
}

func findEmb(entries []vectorstore.Entry, nodeID string) []float32 {
	for _, e := range entries {
		if e.NodeID == nodeID {
			return e.Embedding
		}
	}
	return nil
}

func makeStableClusterID(dataset, sourceFamily string, members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	key := fmt.Sprintf("%s|%s|%s", dataset, sourceFamily, strings.Join(sorted, "|"))
	sum := sha1.Sum([]byte(key))
	return fmt.Sprintf("cluster:%s:%x", dataset, sum[:6])
}

func sortedKeys(clusters map[string]*clusterStats) []string {
	keys := make([]string, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadCentroidCache reads the centroid cache for a dataset directly off the
// raw KV client (bypassing checkpoint.Store's cursor-flattening semantics,
// which are specific to ingestion cursors and don't apply to this payload
// shape).
func loadCentroidCache(ctx context.Context, kv checkpoint.KV, tenantID, projectID, datasetSlug string) (map[string]centroidCacheEntry, int64) {
	value, version, found, err := kv.Get(ctx, tenantID, projectID, checkpoint.ClusterKey("centroids:"+datasetSlug))
	if err != nil || !found {
		return map[string]centroidCacheEntry{}, 0
	}
	var payload map[string]centroidCacheEntry
	if err := json.Unmarshal(value, &payload); err != nil {
		return map[string]centroidCacheEntry{}, version
	}
	for id, entry := range payload {
		if t, err := time.Parse(time.RFC3339, entry.UpdatedAt); err == nil {
			entry.updatedAt = t
			payload[id] = entry
		}
	}
	return payload, version
}

// saveCentroidCache writes the centroid cache back with bounded CAS retry,
// re-reading on conflict the same way checkpoint.Store does for checkpoints.
func saveCentroidCache(ctx context.Context, kv checkpoint.KV, tenantID, projectID, datasetSlug string, clusters map[string]*clusterStats, knownVersion int64) {
	payload := map[string]centroidCacheEntry{}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for id, cs := range clusters {
		payload[id] = centroidCacheEntry{
			Centroid: cs.centroid, Size: cs.size, AvgSim: cs.avgSim, MaxSim: cs.maxSim,
			UpdatedAt: now, EdgeDegree: cs.edgeDegree, MemberHash: cs.memberHash, TopRelated: cs.topRelated,
		}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	key := checkpoint.ClusterKey("centroids:" + datasetSlug)
	version := knownVersion
	for attempt := 0; attempt < centroidCacheMaxRetries; attempt++ {
		if err := kv.Put(ctx, tenantID, projectID, key, encoded, version); err == nil {
			return
		}
		_, v, found, err := kv.Get(ctx, tenantID, projectID, key)
		if err != nil {
			return
		}
		if found {
			version = v
		}
	}
}
