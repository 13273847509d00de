// Package operation runs one ingestion operation end to end: stage records
// from a source endpoint, then hand the staged batches to the indexer,
// cluster builder, signal engine, and insight extractor in turn. It tracks
// each operation's lifecycle (QUEUED -> RUNNING -> SUCCEEDED/FAILED) in
// memory and exposes idempotency-keyed start plus non-blocking polling, the
// way a long-running job handle is meant to work.
package operation

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/cluster"
	"github.com/nucleus-metadata/ingest-core/internal/coreerr"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/indexer"
	"github.com/nucleus-metadata/ingest-core/internal/ingest"
	"github.com/nucleus-metadata/ingest-core/internal/insight"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/planner"
	"github.com/nucleus-metadata/ingest-core/internal/signal"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

var logger = obslog.New("operation", os.Getenv("LOG_LEVEL"))

// Status is one of the operation lifecycle states.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Kind selects which pipeline stages a Start request runs.
type Kind string

const (
	KindIngestionRun Kind = "INGESTION_RUN"
)

// StartRequest describes one operation to run.
type StartRequest struct {
	IdempotencyKey string
	Kind           Kind

	TenantID     string
	ProjectID    string
	TemplateID   string
	Parameters   map[string]any
	DatasetSlug  string
	SourceFamily string
	ProfileID    string
	CdmModelID   string
	ArtifactID   string

	Checkpoint         map[string]any
	StagingProviderID  string
	DisableObjectStore bool
}

// State is a point-in-time snapshot of an operation. Callers receive a
// cloned copy; mutating it never affects the Manager's bookkeeping.
type State struct {
	OperationID string
	Status      Status
	Stats       map[string]string
	ErrorCode   string
	ErrorMsg    string
	Retryable   bool
	StartedAt   time.Time
	CompletedAt time.Time
}

func clone(s *State) *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Stats = make(map[string]string, len(s.Stats))
	for k, v := range s.Stats {
		out.Stats[k] = v
	}
	return &out
}

// Dependencies wires every subsystem the Manager dispatches into. A nil
// store disables the stage that needs it (Checkpoint/Vectors for indexing,
// Vectors/CheckpointKV/Checkpoint for clustering, SignalStore for signals,
// InsightSkills/CheckpointKV for insights). A nil KG client only skips that
// stage's knowledge-graph writes, and a nil InsightLLM makes insight
// extraction use its fallback insight.
type Dependencies struct {
	Endpoints *endpoint.Registry
	Staging   *staging.Registry
	Logs      logstore.Store

	Checkpoint *checkpoint.Store
	CheckpointKV checkpoint.KV

	Vectors  vectorstore.Store
	Embedder indexer.EmbeddingProvider

	ClusterKG cluster.KGClient

	SignalStore signal.Store
	SignalKG    signal.KGClient

	InsightSkills *insight.Registry
	InsightLLM    *insight.Client
	InsightKG     insight.KGClient

	// Registry reports operation outcomes back to the metadata registry.
	// Left nil, every call below becomes a no-op (the registryclient.Client
	// zero value already behaves this way, so either a nil interface or a
	// nil *registryclient.Client works here).
	Registry RegistryReporter
}

// RegistryReporter is the subset of registryclient.Client the Manager
// depends on. Declared locally so this package doesn't need to import
// database/sql transitively just to describe the dependency.
type RegistryReporter interface {
	MarkIndexing(ctx context.Context, artifactID string)
	MarkIndexed(ctx context.Context, artifactID string, counters map[string]any)
	MarkIndexFailed(ctx context.Context, artifactID string, lastError any)
	MarkClustered(ctx context.Context, artifactID string, counters map[string]any)
}

// Manager runs and tracks operations in process memory. It holds no
// persistent state of its own; restart loses in-flight operations, which
// matches the teacher's in-memory orchestrator and is acceptable because
// the workflow package is what adds durability on top.
type Manager struct {
	deps Dependencies

	mu  sync.Mutex
	ops map[string]*State
	// idempotency maps a caller-supplied key to the operation ID it first
	// produced, so retried Start calls return the original operation.
	idempotency map[string]string
}

// NewManager builds a Manager around the given dependency set.
func NewManager(deps Dependencies) *Manager {
	return &Manager{
		deps:        deps,
		ops:         make(map[string]*State),
		idempotency: make(map[string]string),
	}
}

// Start launches an operation, or returns the existing one if the
// idempotency key was already used. The operation runs on a background
// goroutine; Start never blocks on pipeline completion.
func (m *Manager) Start(ctx context.Context, req *StartRequest) (*State, error) {
	m.mu.Lock()
	if req.IdempotencyKey != "" {
		if opID, ok := m.idempotency[req.IdempotencyKey]; ok {
			state := clone(m.ops[opID])
			m.mu.Unlock()
			return state, nil
		}
	}

	opID := req.IdempotencyKey
	if opID == "" {
		opID = fmt.Sprintf("op-%d", len(m.ops)+1)
	}
	state := &State{
		OperationID: opID,
		Status:      StatusQueued,
		Stats:       map[string]string{},
		StartedAt:   time.Now(),
	}
	m.ops[opID] = state
	if req.IdempotencyKey != "" {
		m.idempotency[req.IdempotencyKey] = opID
	}
	m.mu.Unlock()

	go m.run(opID, req)

	return clone(state), nil
}

// Get returns a snapshot of the named operation. A never-seen ID surfaces
// as a synthesized FAILED state rather than an error, so callers can treat
// Get uniformly as "what does this operation look like right now".
func (m *Manager) Get(_ context.Context, operationID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.ops[operationID]; ok {
		return clone(s), nil
	}
	return &State{
		OperationID: operationID,
		Status:      StatusFailed,
		ErrorCode:   string(coreerr.CodeUnknown),
		ErrorMsg:    "operation not found",
		Stats:       map[string]string{},
		CompletedAt: time.Now(),
	}, nil
}

func (m *Manager) updateState(opID string, fn func(s *State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[opID]
	if !ok {
		return
	}
	fn(s)
}

func (m *Manager) setStat(opID, key string, value any) {
	m.updateState(opID, func(s *State) {
		s.Stats[key] = fmt.Sprint(value)
	})
}

// markIndexing/markIndexed/markIndexFailed/markClustered guard every
// Registry call with a nil check: a Manager built without a registry
// reporter leaves Dependencies.Registry as a nil interface, and calling a
// method through a nil interface value panics (unlike a typed nil pointer
// that happens to implement the interface), so the guard has to live here
// rather than relying on the callee's own nil receiver checks.
func (m *Manager) markIndexing(ctx context.Context, artifactID string) {
	if m.deps.Registry != nil {
		m.deps.Registry.MarkIndexing(ctx, artifactID)
	}
}

func (m *Manager) markIndexed(ctx context.Context, artifactID string, counters map[string]any) {
	if m.deps.Registry != nil {
		m.deps.Registry.MarkIndexed(ctx, artifactID, counters)
	}
}

func (m *Manager) markIndexFailed(ctx context.Context, artifactID string, lastError any) {
	if m.deps.Registry != nil {
		m.deps.Registry.MarkIndexFailed(ctx, artifactID, lastError)
	}
}

func (m *Manager) markClustered(ctx context.Context, artifactID string, counters map[string]any) {
	if m.deps.Registry != nil {
		m.deps.Registry.MarkClustered(ctx, artifactID, counters)
	}
}

func (m *Manager) fail(opID string, err error) {
	code, retryable := coreerr.Classify(err)
	logger.Error("operation failed", "operationId", opID, "code", code, "retryable", retryable, "error", err)
	m.updateState(opID, func(s *State) {
		s.Status = StatusFailed
		s.ErrorCode = string(code)
		s.ErrorMsg = err.Error()
		s.Retryable = retryable
		s.CompletedAt = time.Now()
	})
}

func (m *Manager) succeed(opID string) {
	logger.Info("operation succeeded", "operationId", opID)
	m.updateState(opID, func(s *State) {
		s.Status = StatusSucceeded
		s.Retryable = false
		s.CompletedAt = time.Now()
	})
}

func (m *Manager) run(opID string, req *StartRequest) {
	ctx := context.Background()
	logger.Info("operation started", "operationId", opID, "templateId", req.TemplateID, "datasetSlug", req.DatasetSlug)

	m.updateState(opID, func(s *State) {
		s.Status = StatusRunning
	})

	src, err := m.deps.Endpoints.Create(req.TemplateID, req.Parameters)
	if err != nil {
		m.fail(opID, fmt.Errorf("create source endpoint: %w", err))
		return
	}
	defer src.Close()

	source, ok := src.(endpoint.SourceEndpoint)
	if !ok {
		m.fail(opID, coreerr.New(coreerr.CodeEndpointNotFound, false, fmt.Errorf("template %q does not implement a source endpoint", req.TemplateID)))
		return
	}

	strategy := "full"
	if len(req.Checkpoint) > 0 {
		strategy = "incremental"
	}
	plan, err := planner.Plan(ctx, source, &planner.PlanRequest{
		DatasetID:  req.DatasetSlug,
		Strategy:   strategy,
		Checkpoint: req.Checkpoint,
		Policy:     req.Parameters,
	})
	if err != nil {
		m.fail(opID, fmt.Errorf("plan ingestion: %w", err))
		return
	}
	m.setStat(opID, "sliceCount", plan.SliceCount)

	stageRef, batchRefs, recordsStaged, bytesStaged, newCheckpoint, err := m.runSlices(ctx, opID, source, req, plan)
	if err != nil {
		m.fail(opID, err)
		return
	}
	req.Checkpoint = newCheckpoint
	m.setStat(opID, "recordsStaged", recordsStaged)
	m.setStat(opID, "bytesStaged", bytesStaged)
	m.setStat(opID, "stageRef", stageRef)
	m.setStat(opID, "batches", len(batchRefs))

	providerID, _ := staging.ParseStageRef(stageRef)

	runID := fmt.Sprintf("%s-%d", opID, time.Now().UnixNano())

	if m.deps.Checkpoint != nil && m.deps.Vectors != nil {
		m.markIndexing(ctx, req.ArtifactID)
		result, err := indexer.Run(ctx, m.deps.Staging, m.deps.Checkpoint, m.deps.Vectors, m.deps.Embedder, m.deps.Logs, &indexer.RunRequest{
			TenantID:           req.TenantID,
			ProjectID:          req.ProjectID,
			ProfileID:          req.ProfileID,
			SourceFamily:       req.SourceFamily,
			CdmModelID:         req.CdmModelID,
			DatasetSlug:        req.DatasetSlug,
			RunID:              runID,
			Checkpoint:         req.Checkpoint,
			StagingProviderID:  providerID,
			StageRef:           stageRef,
			BatchRefs:          batchRefs,
		})
		if err != nil {
			m.markIndexFailed(ctx, req.ArtifactID, err.Error())
			m.fail(opID, fmt.Errorf("index: %w", err))
			return
		}
		m.setStat(opID, "recordsIndexed", result.RecordsIndexed)
		m.markIndexed(ctx, req.ArtifactID, map[string]any{
			"recordsIndexed": result.RecordsIndexed,
			"skipped":        result.Skipped,
		})
	}

	if m.deps.Vectors != nil && m.deps.CheckpointKV != nil && m.deps.Checkpoint != nil {
		result, err := cluster.Run(ctx, m.deps.Vectors, m.deps.CheckpointKV, m.deps.Checkpoint, m.deps.ClusterKG, m.deps.Logs, &cluster.RunRequest{
			TenantID:     req.TenantID,
			ProjectID:    req.ProjectID,
			DatasetSlug:  req.DatasetSlug,
			SourceFamily: req.SourceFamily,
			ArtifactID:   req.ArtifactID,
			RunID:        runID,
			Checkpoint:   req.Checkpoint,
		})
		if err != nil {
			m.fail(opID, fmt.Errorf("cluster: %w", err))
			return
		}
		m.setStat(opID, "clustersCreated", result.ClustersCreated)
		m.markClustered(ctx, req.ArtifactID, map[string]any{
			"clustersCreated": result.ClustersCreated,
			"versionHash":     result.VersionHash,
		})
	}

	if m.deps.SignalStore != nil {
		result, err := signal.Run(ctx, m.deps.Staging, m.deps.SignalStore, m.deps.SignalKG, m.deps.Logs, &signal.RunRequest{
			TenantID:           req.TenantID,
			ProjectID:          req.ProjectID,
			SourceFamily:       req.SourceFamily,
			DatasetSlug:        req.DatasetSlug,
			RunID:              runID,
			Checkpoint:         req.Checkpoint,
			StagingProviderID:  providerID,
			StageRef:           stageRef,
			BatchRefs:          batchRefs,
		})
		if err != nil {
			m.fail(opID, fmt.Errorf("signal: %w", err))
			return
		}
		m.setStat(opID, "signalInstancesCreated", result.Created)
	}

	if m.deps.InsightSkills != nil && m.deps.CheckpointKV != nil {
		result, err := insight.Run(ctx, m.deps.Staging, m.deps.InsightSkills, m.deps.CheckpointKV, m.deps.InsightLLM, m.deps.InsightKG, m.deps.Logs, &insight.RunRequest{
			TenantID:           req.TenantID,
			ProjectID:          req.ProjectID,
			SourceFamily:       req.SourceFamily,
			DatasetSlug:        req.DatasetSlug,
			ArtifactID:         req.ArtifactID,
			RunID:              runID,
			Checkpoint:         req.Checkpoint,
			StagingProviderID:  providerID,
			StageRef:           stageRef,
			BatchRefs:          batchRefs,
		})
		if err != nil {
			m.fail(opID, fmt.Errorf("insight: %w", err))
			return
		}
		m.setStat(opID, "insightsParsed", result.Counters.Parsed)
	}

	m.succeed(opID)
}

// runSlices drives one ingest.Run call per planned slice (a one-element
// "full" plan for connectors that don't implement SliceCapable), threading
// the first slice's stage ref into the rest so every slice appends to the
// same stage and threading each slice's resulting checkpoint into the next,
// the way a resumable multi-slice dataset run is meant to compose.
func (m *Manager) runSlices(ctx context.Context, opID string, source endpoint.SourceEndpoint, req *StartRequest, plan *endpoint.IngestionPlan) (stageRef string, batchRefs []string, records, bytes int64, newCheckpoint map[string]any, err error) {
	slices := plan.Slices
	if len(slices) == 0 {
		slices = []*endpoint.IngestionSlice{nil}
	}

	newCheckpoint = req.Checkpoint
	for _, slice := range slices {
		result, runErr := ingest.Run(ctx, source, m.deps.Staging, &ingest.RunRequest{
			TemplateID:         req.TemplateID,
			EndpointID:         req.TemplateID,
			DatasetID:          req.DatasetSlug,
			UnitID:             opID,
			Mode:               plan.Strategy,
			Policy:             req.Parameters,
			Checkpoint:         newCheckpoint,
			Slice:              slice,
			StagingProviderID:  req.StagingProviderID,
			DisableObjectStore: req.DisableObjectStore,
			StageRef:           stageRef,
		})
		if runErr != nil {
			return "", nil, 0, 0, nil, fmt.Errorf("run slice: %w", runErr)
		}
		stageRef = result.StageRef
		batchRefs = append(batchRefs, result.BatchRefs...)
		records += result.RecordsStaged
		bytes += result.BytesStaged
		newCheckpoint = result.NewCheckpoint
	}

	if stageRef != "" {
		providerID, _ := staging.ParseStageRef(stageRef)
		if provider, ok := m.deps.Staging.Get(providerID); ok && provider.ID() != staging.ProviderMemory {
			if finalizeErr := provider.FinalizeStage(ctx, stageRef); finalizeErr != nil {
				return "", nil, 0, 0, nil, fmt.Errorf("finalize stage: %w", finalizeErr)
			}
		}
	}

	return stageRef, batchRefs, records, bytes, newCheckpoint, nil
}
