// Command operationworker polls the ingest-core Temporal task queue and runs
// ingestion operations through internal/workflow's RunIngestOperationWorkflow.
package main

import (
	"context"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/nucleus-metadata/ingest-core/internal/checkpoint"
	"github.com/nucleus-metadata/ingest-core/internal/cluster"
	"github.com/nucleus-metadata/ingest-core/internal/config"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint"
	"github.com/nucleus-metadata/ingest-core/internal/endpoint/mockendpoint"
	"github.com/nucleus-metadata/ingest-core/internal/indexer"
	"github.com/nucleus-metadata/ingest-core/internal/insight"
	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/operation"
	"github.com/nucleus-metadata/ingest-core/internal/registryclient"
	"github.com/nucleus-metadata/ingest-core/internal/signal"
	"github.com/nucleus-metadata/ingest-core/internal/staging"
	"github.com/nucleus-metadata/ingest-core/internal/workflow"
	"github.com/nucleus-metadata/ingest-core/pkg/kvstore"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/signalstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

const defaultTaskQueue = workflow.TaskQueue

var logger = obslog.New("operationworker", os.Getenv("LOG_LEVEL"))

func main() {
	cfg := config.Load()
	temporalAddr := getEnv("TEMPORAL_ADDRESS", cfg.TemporalHost)
	namespace := cfg.TemporalNamespace
	taskQueue := getEnv("INGEST_CORE_TASK_QUEUE", defaultTaskQueue)

	logger.Info("starting operation worker", "address", temporalAddr, "namespace", namespace, "queue", taskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  temporalAddr,
		Namespace: namespace,
	})
	if err != nil {
		logger.Error("create temporal client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	deps, err := buildDependencies(cfg)
	if err != nil {
		logger.Error("build dependencies", "error", err)
		os.Exit(1)
	}
	mgr := operation.NewManager(deps)
	acts := workflow.NewActivities(mgr)

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(workflow.RunIngestOperationWorkflow)
	w.RegisterActivity(acts.RunOperation)

	logger.Info("registered ingest-core workflow and RunOperation activity")

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

// buildDependencies mirrors cmd/operationd's dependency graph but omits the
// KG gRPC wiring and gRPC server scaffolding this process has no use for;
// a worker only ever needs the Manager, not the control-plane API surface.
func buildDependencies(cfg *config.Config) (operation.Dependencies, error) {
	endpoints := endpoint.NewRegistry()
	endpoints.Register(mockendpoint.TemplateSource, mockendpoint.NewSource)
	endpoints.Register(mockendpoint.TemplateSink, mockendpoint.NewSink)

	stagingRegistry := staging.NewRegistry(staging.NewMemoryProvider(64 << 20))

	logs, err := logstore.NewMinioStoreFromEnv()
	if err != nil {
		return operation.Dependencies{}, err
	}

	var checkpointKV checkpoint.KV
	if kvStore, err := kvstore.NewPostgresStore(); err == nil {
		checkpointKV = kvStore
	} else {
		logger.Warn("checkpoint KV disabled", "error", err)
	}
	var checkpointStore *checkpoint.Store
	if checkpointKV != nil {
		checkpointStore = checkpoint.NewStore(checkpointKV)
	}

	var vectors vectorstore.Store
	if dsn := getEnv("VECTOR_DATABASE_URL", ""); dsn != "" {
		dim := cfg.EmbedDim
		if dim <= 0 {
			dim = 1536
		}
		pgVectors, err := vectorstore.NewPgVectorStore(context.Background(), dsn, dim)
		if err != nil {
			return operation.Dependencies{}, err
		}
		vectors = pgVectors
	} else {
		logger.Warn("vector store disabled", "reason", "VECTOR_DATABASE_URL not set")
	}

	registry, err := registryclient.NewFromEnv()
	if err != nil {
		return operation.Dependencies{}, err
	}
	var reporter operation.RegistryReporter
	if registry != nil {
		reporter = registry
	}

	var signals signal.Store
	if signalDB, err := signalstore.NewFromEnv(); err == nil {
		signals = signalDB
	} else {
		logger.Warn("signal store disabled", "error", err)
	}

	return operation.Dependencies{
		Endpoints:     endpoints,
		Staging:       stagingRegistry,
		Logs:          logs,
		Checkpoint:    checkpointStore,
		CheckpointKV:  checkpointKV,
		Vectors:       vectors,
		Embedder:      indexer.ProviderFromEnv(),
		ClusterKG:     noopClusterKG{},
		SignalStore:   signals,
		SignalKG:      noopSignalKG{},
		InsightSkills: insight.NewRegistry(cfg.InsightSkillDir),
		InsightLLM:    insight.NewClientFromEnv(),
		InsightKG:     noopInsightKG{},
		Registry:      reporter,
	}, nil
}

// noop*KG stand in for the KG clients, since the worker has no KG service
// wiring. cluster.Run/signal.Run/insight.Run skip their knowledge-graph
// writes, and the bookkeeping tied to them, when given a nil KGClient (a nil
// insight KG, for one, means no parsed-insight count and no KB events); the
// no-op adapters keep that bookkeeping running while writing nothing.
type noopClusterKG struct{}

func (noopClusterKG) UpsertNode(ctx context.Context, tenantID, projectID string, node cluster.Node) error {
	return nil
}
func (noopClusterKG) UpsertEdge(ctx context.Context, tenantID, projectID string, edge cluster.Edge) error {
	return nil
}

type noopSignalKG struct{}

func (noopSignalKG) UpsertNode(ctx context.Context, tenantID, projectID string, node signal.Node) error {
	return nil
}
func (noopSignalKG) UpsertEdge(ctx context.Context, tenantID, projectID string, edge signal.Edge) error {
	return nil
}

type noopInsightKG struct{}

func (noopInsightKG) UpsertNode(ctx context.Context, tenantID, projectID string, node insight.Node) error {
	return nil
}
func (noopInsightKG) UpsertEdge(ctx context.Context, tenantID, projectID string, edge insight.Edge) error {
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
