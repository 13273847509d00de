// Code generated manually for bootstrap. Replace with protoc-generated code for production.
package kgpb

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

// Node represents a KG node.
type Node struct {
	Id         string            `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Type       string            `protobuf:"bytes,2,opt,name=type,proto3" json:"type,omitempty"`
	Properties map[string]string `protobuf:"bytes,3,rep,name=properties,proto3" json:"properties,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

// Edge represents a KG edge.
type Edge struct {
	Id         string            `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Type       string            `protobuf:"bytes,2,opt,name=type,proto3" json:"type,omitempty"`
	FromId     string            `protobuf:"bytes,3,opt,name=from_id,json=fromId,proto3" json:"from_id,omitempty"`
	ToId       string            `protobuf:"bytes,4,opt,name=to_id,json=toId,proto3" json:"to_id,omitempty"`
	Properties map[string]string `protobuf:"bytes,5,rep,name=properties,proto3" json:"properties,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

type UpsertNodeRequest struct {
	TenantId  string `protobuf:"bytes,1,opt,name=tenant_id,json=tenantId,proto3" json:"tenant_id,omitempty"`
	ProjectId string `protobuf:"bytes,2,opt,name=project_id,json=projectId,proto3" json:"project_id,omitempty"`
	Node      *Node  `protobuf:"bytes,3,opt,name=node,proto3" json:"node,omitempty"`
}
type UpsertNodeResponse struct {
	Node *Node `protobuf:"bytes,1,opt,name=node,proto3" json:"node,omitempty"`
}

type UpsertEdgeRequest struct {
	TenantId  string `protobuf:"bytes,1,opt,name=tenant_id,json=tenantId,proto3" json:"tenant_id,omitempty"`
	ProjectId string `protobuf:"bytes,2,opt,name=project_id,json=projectId,proto3" json:"project_id,omitempty"`
	Edge      *Edge  `protobuf:"bytes,3,opt,name=edge,proto3" json:"edge,omitempty"`
}
type UpsertEdgeResponse struct {
	Edge *Edge `protobuf:"bytes,1,opt,name=edge,proto3" json:"edge,omitempty"`
}

// Client API
type KgServiceClient interface {
	UpsertNode(ctx context.Context, in *UpsertNodeRequest, opts ...grpc.CallOption) (*UpsertNodeResponse, error)
	UpsertEdge(ctx context.Context, in *UpsertEdgeRequest, opts ...grpc.CallOption) (*UpsertEdgeResponse, error)
}

type kgServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewKgServiceClient(cc grpc.ClientConnInterface) KgServiceClient {
	return &kgServiceClient{cc}
}

func (c *kgServiceClient) UpsertNode(ctx context.Context, in *UpsertNodeRequest, opts ...grpc.CallOption) (*UpsertNodeResponse, error) {
	out := new(UpsertNodeResponse)
	if err := c.cc.Invoke(ctx, "/kg.KgService/UpsertNode", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kgServiceClient) UpsertEdge(ctx context.Context, in *UpsertEdgeRequest, opts ...grpc.CallOption) (*UpsertEdgeResponse, error) {
	out := new(UpsertEdgeResponse)
	if err := c.cc.Invoke(ctx, "/kg.KgService/UpsertEdge", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Server API
type KgServiceServer interface {
	UpsertNode(context.Context, *UpsertNodeRequest) (*UpsertNodeResponse, error)
	UpsertEdge(context.Context, *UpsertEdgeRequest) (*UpsertEdgeResponse, error)
}

type UnimplementedKgServiceServer struct{}

func (*UnimplementedKgServiceServer) UpsertNode(context.Context, *UpsertNodeRequest) (*UpsertNodeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpsertNode not implemented")
}
func (*UnimplementedKgServiceServer) UpsertEdge(context.Context, *UpsertEdgeRequest) (*UpsertEdgeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method UpsertEdge not implemented")
}

func RegisterKgServiceServer(s *grpc.Server, srv KgServiceServer) {
	s.RegisterService(&_KgService_serviceDesc, srv)
}

func _KgService_UpsertNode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpsertNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KgServiceServer).UpsertNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kg.KgService/UpsertNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KgServiceServer).UpsertNode(ctx, req.(*UpsertNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _KgService_UpsertEdge_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpsertEdgeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KgServiceServer).UpsertEdge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/kg.KgService/UpsertEdge"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(KgServiceServer).UpsertEdge(ctx, req.(*UpsertEdgeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var _KgService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "kg.KgService",
	HandlerType: (*KgServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UpsertNode", Handler: _KgService_UpsertNode_Handler},
		{MethodName: "UpsertEdge", Handler: _KgService_UpsertEdge_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kg.proto",
}
