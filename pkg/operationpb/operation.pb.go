// Code generated manually for bootstrap. Replace with protoc-generated code for production.
package operationpb

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

type StartOperationRequest struct {
	IdempotencyKey    string            `protobuf:"bytes,1,opt,name=idempotency_key,json=idempotencyKey,proto3" json:"idempotency_key,omitempty"`
	TenantId          string            `protobuf:"bytes,2,opt,name=tenant_id,json=tenantId,proto3" json:"tenant_id,omitempty"`
	ProjectId         string            `protobuf:"bytes,3,opt,name=project_id,json=projectId,proto3" json:"project_id,omitempty"`
	TemplateId        string            `protobuf:"bytes,4,opt,name=template_id,json=templateId,proto3" json:"template_id,omitempty"`
	Parameters        map[string]string `protobuf:"bytes,5,rep,name=parameters,proto3" json:"parameters,omitempty"`
	DatasetSlug       string            `protobuf:"bytes,6,opt,name=dataset_slug,json=datasetSlug,proto3" json:"dataset_slug,omitempty"`
	SourceFamily      string            `protobuf:"bytes,7,opt,name=source_family,json=sourceFamily,proto3" json:"source_family,omitempty"`
	ProfileId         string            `protobuf:"bytes,8,opt,name=profile_id,json=profileId,proto3" json:"profile_id,omitempty"`
	CdmModelId        string            `protobuf:"bytes,9,opt,name=cdm_model_id,json=cdmModelId,proto3" json:"cdm_model_id,omitempty"`
	ArtifactId        string            `protobuf:"bytes,10,opt,name=artifact_id,json=artifactId,proto3" json:"artifact_id,omitempty"`
	StagingProviderId string            `protobuf:"bytes,11,opt,name=staging_provider_id,json=stagingProviderId,proto3" json:"staging_provider_id,omitempty"`
}

type OperationState struct {
	OperationId string            `protobuf:"bytes,1,opt,name=operation_id,json=operationId,proto3" json:"operation_id,omitempty"`
	Status      string            `protobuf:"bytes,2,opt,name=status,proto3" json:"status,omitempty"`
	Stats       map[string]string `protobuf:"bytes,3,rep,name=stats,proto3" json:"stats,omitempty"`
	ErrorCode   string            `protobuf:"bytes,4,opt,name=error_code,json=errorCode,proto3" json:"error_code,omitempty"`
	ErrorMsg    string            `protobuf:"bytes,5,opt,name=error_msg,json=errorMsg,proto3" json:"error_msg,omitempty"`
	Retryable   bool              `protobuf:"varint,6,opt,name=retryable,proto3" json:"retryable,omitempty"`
}

type GetOperationRequest struct {
	OperationId string `protobuf:"bytes,1,opt,name=operation_id,json=operationId,proto3" json:"operation_id,omitempty"`
}

type RunSummaryRequest struct {
	ArtifactId string `protobuf:"bytes,1,opt,name=artifact_id,json=artifactId,proto3" json:"artifact_id,omitempty"`
}

type RunSummaryResponse struct {
	ArtifactId      string `protobuf:"bytes,1,opt,name=artifact_id,json=artifactId,proto3" json:"artifact_id,omitempty"`
	TenantId        string `protobuf:"bytes,2,opt,name=tenant_id,json=tenantId,proto3" json:"tenant_id,omitempty"`
	SourceFamily    string `protobuf:"bytes,3,opt,name=source_family,json=sourceFamily,proto3" json:"source_family,omitempty"`
	SinkEndpointId  string `protobuf:"bytes,4,opt,name=sink_endpoint_id,json=sinkEndpointId,proto3" json:"sink_endpoint_id,omitempty"`
	VersionHash     string `protobuf:"bytes,5,opt,name=version_hash,json=versionHash,proto3" json:"version_hash,omitempty"`
	LogEventsPath   string `protobuf:"bytes,6,opt,name=log_events_path,json=logEventsPath,proto3" json:"log_events_path,omitempty"`
	LogSnapshotPath string `protobuf:"bytes,7,opt,name=log_snapshot_path,json=logSnapshotPath,proto3" json:"log_snapshot_path,omitempty"`
	NodesTouched    int64  `protobuf:"varint,8,opt,name=nodes_touched,json=nodesTouched,proto3" json:"nodes_touched,omitempty"`
	EdgesTouched    int64  `protobuf:"varint,9,opt,name=edges_touched,json=edgesTouched,proto3" json:"edges_touched,omitempty"`
	CacheHits       int64  `protobuf:"varint,10,opt,name=cache_hits,json=cacheHits,proto3" json:"cache_hits,omitempty"`
}

type DiffRunSummariesRequest struct {
	LeftArtifactId  string `protobuf:"bytes,1,opt,name=left_artifact_id,json=leftArtifactId,proto3" json:"left_artifact_id,omitempty"`
	RightArtifactId string `protobuf:"bytes,2,opt,name=right_artifact_id,json=rightArtifactId,proto3" json:"right_artifact_id,omitempty"`
}

type DiffRunSummariesResponse struct {
	Left          *RunSummaryResponse `protobuf:"bytes,1,opt,name=left,proto3" json:"left,omitempty"`
	Right         *RunSummaryResponse `protobuf:"bytes,2,opt,name=right,proto3" json:"right,omitempty"`
	VersionEqual  bool                `protobuf:"varint,3,opt,name=version_equal,json=versionEqual,proto3" json:"version_equal,omitempty"`
	Notes         string              `protobuf:"bytes,4,opt,name=notes,proto3" json:"notes,omitempty"`
	LogEventsPath string              `protobuf:"bytes,5,opt,name=log_events_path,json=logEventsPath,proto3" json:"log_events_path,omitempty"`
	CountersDelta map[string]int64    `protobuf:"bytes,6,rep,name=counters_delta,json=countersDelta,proto3" json:"counters_delta,omitempty"`
}

// Client API
type OperationServiceClient interface {
	StartOperation(ctx context.Context, in *StartOperationRequest, opts ...grpc.CallOption) (*OperationState, error)
	GetOperation(ctx context.Context, in *GetOperationRequest, opts ...grpc.CallOption) (*OperationState, error)
	GetRunSummary(ctx context.Context, in *RunSummaryRequest, opts ...grpc.CallOption) (*RunSummaryResponse, error)
	DiffRunSummaries(ctx context.Context, in *DiffRunSummariesRequest, opts ...grpc.CallOption) (*DiffRunSummariesResponse, error)
}

type operationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOperationServiceClient(cc grpc.ClientConnInterface) OperationServiceClient {
	return &operationServiceClient{cc}
}

func (c *operationServiceClient) StartOperation(ctx context.Context, in *StartOperationRequest, opts ...grpc.CallOption) (*OperationState, error) {
	out := new(OperationState)
	if err := c.cc.Invoke(ctx, "/operation.OperationService/StartOperation", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *operationServiceClient) GetOperation(ctx context.Context, in *GetOperationRequest, opts ...grpc.CallOption) (*OperationState, error) {
	out := new(OperationState)
	if err := c.cc.Invoke(ctx, "/operation.OperationService/GetOperation", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *operationServiceClient) GetRunSummary(ctx context.Context, in *RunSummaryRequest, opts ...grpc.CallOption) (*RunSummaryResponse, error) {
	out := new(RunSummaryResponse)
	if err := c.cc.Invoke(ctx, "/operation.OperationService/GetRunSummary", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *operationServiceClient) DiffRunSummaries(ctx context.Context, in *DiffRunSummariesRequest, opts ...grpc.CallOption) (*DiffRunSummariesResponse, error) {
	out := new(DiffRunSummariesResponse)
	if err := c.cc.Invoke(ctx, "/operation.OperationService/DiffRunSummaries", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Server API
type OperationServiceServer interface {
	StartOperation(context.Context, *StartOperationRequest) (*OperationState, error)
	GetOperation(context.Context, *GetOperationRequest) (*OperationState, error)
	GetRunSummary(context.Context, *RunSummaryRequest) (*RunSummaryResponse, error)
	DiffRunSummaries(context.Context, *DiffRunSummariesRequest) (*DiffRunSummariesResponse, error)
}

type UnimplementedOperationServiceServer struct{}

func (*UnimplementedOperationServiceServer) StartOperation(context.Context, *StartOperationRequest) (*OperationState, error) {
	return nil, status.Errorf(codes.Unimplemented, "method StartOperation not implemented")
}
func (*UnimplementedOperationServiceServer) GetOperation(context.Context, *GetOperationRequest) (*OperationState, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetOperation not implemented")
}
func (*UnimplementedOperationServiceServer) GetRunSummary(context.Context, *RunSummaryRequest) (*RunSummaryResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetRunSummary not implemented")
}
func (*UnimplementedOperationServiceServer) DiffRunSummaries(context.Context, *DiffRunSummariesRequest) (*DiffRunSummariesResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method DiffRunSummaries not implemented")
}

func RegisterOperationServiceServer(s *grpc.Server, srv OperationServiceServer) {
	s.RegisterService(&_OperationService_serviceDesc, srv)
}

func _OperationService_StartOperation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartOperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).StartOperation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/operation.OperationService/StartOperation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).StartOperation(ctx, req.(*StartOperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_GetOperation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetOperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).GetOperation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/operation.OperationService/GetOperation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).GetOperation(ctx, req.(*GetOperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_GetRunSummary_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunSummaryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).GetRunSummary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/operation.OperationService/GetRunSummary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).GetRunSummary(ctx, req.(*RunSummaryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_DiffRunSummaries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiffRunSummariesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).DiffRunSummaries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/operation.OperationService/DiffRunSummaries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).DiffRunSummaries(ctx, req.(*DiffRunSummariesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var _OperationService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "operation.OperationService",
	HandlerType: (*OperationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartOperation", Handler: _OperationService_StartOperation_Handler},
		{MethodName: "GetOperation", Handler: _OperationService_GetOperation_Handler},
		{MethodName: "GetRunSummary", Handler: _OperationService_GetRunSummary_Handler},
		{MethodName: "DiffRunSummaries", Handler: _OperationService_DiffRunSummaries_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "operation.proto",
}
