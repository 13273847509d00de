// Command operationd serves the OperationService gRPC API: start and poll
// ingestion operations, and read back materialized run summaries for diffing.
package main

import (
	"context"
	"net"
	"os"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"go.temporal.io/sdk/client"

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
	"github.com/nucleus-metadata/ingest-core/pkg/kgclient"
	"github.com/nucleus-metadata/ingest-core/pkg/kgpb"
	"github.com/nucleus-metadata/ingest-core/pkg/kvstore"
	"github.com/nucleus-metadata/ingest-core/pkg/logstore"
	"github.com/nucleus-metadata/ingest-core/pkg/operationpb"
	"github.com/nucleus-metadata/ingest-core/pkg/signalstore"
	"github.com/nucleus-metadata/ingest-core/pkg/vectorstore"
)

var logger = obslog.New("operationd", os.Getenv("LOG_LEVEL"))

func main() {
	cfg := config.Load()
	addr := cfg.OperationGRPCAddr

	deps, closeDeps, err := buildDependencies(cfg)
	if err != nil {
		logger.Error("build dependencies", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	mgr := operation.NewManager(deps)

	var temporalClient client.Client
	if temporalAddr := env("TEMPORAL_ADDRESS", ""); temporalAddr != "" {
		temporalClient, err = client.Dial(client.Options{
			HostPort:  temporalAddr,
			Namespace: cfg.TemporalNamespace,
		})
		if err != nil {
			logger.Error("dial temporal", "address", temporalAddr, "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
	}
	dispatcher := workflow.NewDispatcher(mgr, temporalClient)

	registry, err := registryclient.NewFromEnv()
	if err != nil {
		logger.Error("registry client", "error", err)
		os.Exit(1)
	}
	if registry != nil {
		defer registry.Close()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	operationpb.RegisterOperationServiceServer(grpcServer, &operationServer{
		dispatcher: dispatcher,
		manager:    mgr,
		registry:   registry,
	})

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	logger.Info("operationd gRPC listening", "addr", addr)
	if err := grpcServer.Serve(lis); err != nil {
		logger.Error("serve gRPC", "error", err)
		os.Exit(1)
	}
}

type operationServer struct {
	dispatcher *workflow.Dispatcher
	manager    *operation.Manager
	registry   *registryclient.Client
	operationpb.UnimplementedOperationServiceServer
}

func (s *operationServer) StartOperation(ctx context.Context, req *operationpb.StartOperationRequest) (*operationpb.OperationState, error) {
	if req.GetTemplateId() == "" {
		return nil, status.Error(codes.InvalidArgument, "template_id is required")
	}
	params := make(map[string]any, len(req.GetParameters()))
	for k, v := range req.GetParameters() {
		params[k] = v
	}
	state, err := s.dispatcher.Start(ctx, &operation.StartRequest{
		IdempotencyKey:    req.GetIdempotencyKey(),
		TenantID:          req.GetTenantId(),
		ProjectID:         req.GetProjectId(),
		TemplateID:        req.GetTemplateId(),
		Parameters:        params,
		DatasetSlug:       req.GetDatasetSlug(),
		SourceFamily:      req.GetSourceFamily(),
		ProfileID:         req.GetProfileId(),
		CdmModelID:        req.GetCdmModelId(),
		ArtifactID:        req.GetArtifactId(),
		StagingProviderID: req.GetStagingProviderId(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "start operation: %v", err)
	}
	return toProtoState(state), nil
}

func (s *operationServer) GetOperation(ctx context.Context, req *operationpb.GetOperationRequest) (*operationpb.OperationState, error) {
	if req.GetOperationId() == "" {
		return nil, status.Error(codes.InvalidArgument, "operation_id is required")
	}
	state, err := s.manager.Get(ctx, req.GetOperationId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get operation: %v", err)
	}
	return toProtoState(state), nil
}

func (s *operationServer) GetRunSummary(ctx context.Context, req *operationpb.RunSummaryRequest) (*operationpb.RunSummaryResponse, error) {
	if s.registry == nil {
		return nil, status.Error(codes.Unavailable, "metadata registry unavailable")
	}
	if req.GetArtifactId() == "" {
		return nil, status.Error(codes.InvalidArgument, "artifact_id is required")
	}
	summary, err := s.registry.GetRunSummary(ctx, req.GetArtifactId())
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "run summary: %v", err)
	}
	return toProtoSummary(summary), nil
}

func (s *operationServer) DiffRunSummaries(ctx context.Context, req *operationpb.DiffRunSummariesRequest) (*operationpb.DiffRunSummariesResponse, error) {
	if s.registry == nil {
		return nil, status.Error(codes.Unavailable, "metadata registry unavailable")
	}
	if req.GetLeftArtifactId() == "" || req.GetRightArtifactId() == "" {
		return nil, status.Error(codes.InvalidArgument, "left_artifact_id and right_artifact_id are required")
	}
	diff, err := s.registry.DiffRunSummaries(ctx, req.GetLeftArtifactId(), req.GetRightArtifactId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "diff run summaries: %v", err)
	}
	return &operationpb.DiffRunSummariesResponse{
		Left:          toProtoSummary(diff.Left),
		Right:         toProtoSummary(diff.Right),
		VersionEqual:  diff.VersionEqual,
		Notes:         diff.Notes,
		LogEventsPath: diff.LogEventsPath,
		CountersDelta: diff.CountersDelta,
	}, nil
}

func toProtoState(s *operation.State) *operationpb.OperationState {
	return &operationpb.OperationState{
		OperationId: s.OperationID,
		Status:      string(s.Status),
		Stats:       s.Stats,
		ErrorCode:   s.ErrorCode,
		ErrorMsg:    s.ErrorMsg,
		Retryable:   s.Retryable,
	}
}

func toProtoSummary(s *registryclient.RunSummary) *operationpb.RunSummaryResponse {
	if s == nil {
		return nil
	}
	return &operationpb.RunSummaryResponse{
		ArtifactId:      s.ArtifactID,
		TenantId:        s.TenantID,
		SourceFamily:    s.SourceFamily,
		SinkEndpointId:  s.SinkEndpointID,
		VersionHash:     s.VersionHash,
		LogEventsPath:   s.LogEventsPath,
		LogSnapshotPath: s.LogSnapshotPath,
		NodesTouched:    s.NodesTouched,
		EdgesTouched:    s.EdgesTouched,
		CacheHits:       s.CacheHits,
	}
}

// buildDependencies wires operation.Dependencies from config.Config plus a
// handful of env vars config.Config doesn't cover, following the same
// config-driven construction metadata-api-go's cmd/server and cmd/worker use
// for their own dependency graphs. Dependencies without a configured address
// or DSN degrade to "disabled" rather than failing startup, matching
// operation.Manager's nil-dependency-skips-stage contract; the knowledge
// graph client uses cfg.KGAddr's local-dev default and so is always
// constructed, with connection failures surfacing lazily on first RPC rather
// than at startup (grpc.NewClient never blocks on dial).
func buildDependencies(cfg *config.Config) (operation.Dependencies, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	endpoints := endpoint.NewRegistry()
	endpoints.Register(mockendpoint.TemplateSource, mockendpoint.NewSource)
	endpoints.Register(mockendpoint.TemplateSink, mockendpoint.NewSink)

	stagingProviders := []staging.Provider{staging.NewMemoryProvider(64 << 20)}
	if cfg.MinioEndpoint != "" {
		minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
		})
		if err != nil {
			return operation.Dependencies{}, closeAll, err
		}
		objProvider, err := staging.NewObjectProvider(&staging.MinioClient{Client: minioClient}, cfg.MinioBucket, cfg.MinioStagePrefix)
		if err != nil {
			return operation.Dependencies{}, closeAll, err
		}
		stagingProviders = append(stagingProviders, objProvider)
	}
	stagingRegistry := staging.NewRegistry(stagingProviders...)

	logs, err := logstore.NewMinioStoreFromEnv()
	if err != nil {
		return operation.Dependencies{}, closeAll, err
	}

	var checkpointKV checkpoint.KV
	if kvStore, err := kvstore.NewPostgresStore(); err == nil {
		checkpointKV = kvStore
		closers = append(closers, func() { kvStore.Close() })
	} else {
		logger.Warn("checkpoint KV disabled", "error", err)
	}
	var checkpointStore *checkpoint.Store
	if checkpointKV != nil {
		checkpointStore = checkpoint.NewStore(checkpointKV)
	}

	var vectors vectorstore.Store
	if dsn := env("VECTOR_DATABASE_URL", ""); dsn != "" {
		dim := cfg.EmbedDim
		if dim <= 0 {
			dim = 1536
		}
		pgVectors, err := vectorstore.NewPgVectorStore(context.Background(), dsn, dim)
		if err != nil {
			return operation.Dependencies{}, closeAll, err
		}
		vectors = pgVectors
	} else {
		logger.Warn("vector store disabled", "reason", "VECTOR_DATABASE_URL not set")
	}

	var clusterKG cluster.KGClient
	var signalKG signal.KGClient
	var insightKG insight.KGClient
	if cfg.KGAddr != "" {
		conn, err := grpc.NewClient(cfg.KGAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return operation.Dependencies{}, closeAll, err
		}
		closers = append(closers, func() { conn.Close() })
		kg := kgclient.New(kgpb.NewKgServiceClient(conn))
		clusterKG = kg.ForCluster()
		signalKG = kg.ForSignal()
		insightKG = kg.ForInsight()
	}

	registry, err := registryclient.NewFromEnv()
	if err != nil {
		return operation.Dependencies{}, closeAll, err
	}
	var reporter operation.RegistryReporter
	if registry != nil {
		reporter = registry
		closers = append(closers, func() { registry.Close() })
	}

	var signals signal.Store
	if signalDB, err := signalstore.NewFromEnv(); err == nil {
		signals = signalDB
		closers = append(closers, func() { signalDB.Close() })
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
		ClusterKG:     clusterKG,
		SignalStore:   signals,
		SignalKG:      signalKG,
		InsightSkills: insight.NewRegistry(cfg.InsightSkillDir),
		InsightLLM:    insight.NewClientFromEnv(),
		InsightKG:     insightKG,
		Registry:      reporter,
	}, closeAll, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
