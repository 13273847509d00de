package kgclient

import (
	"context"
	"testing"

	"google.golang.org/grpc"

	"github.com/nucleus-metadata/ingest-core/internal/cluster"
	"github.com/nucleus-metadata/ingest-core/internal/insight"
	"github.com/nucleus-metadata/ingest-core/internal/signal"
	"github.com/nucleus-metadata/ingest-core/pkg/kgpb"
)

type fakeRPC struct {
	nodes []*kgpb.UpsertNodeRequest
	edges []*kgpb.UpsertEdgeRequest
}

func (f *fakeRPC) UpsertNode(ctx context.Context, in *kgpb.UpsertNodeRequest, opts ...grpc.CallOption) (*kgpb.UpsertNodeResponse, error) {
	f.nodes = append(f.nodes, in)
	return &kgpb.UpsertNodeResponse{Node: in.Node}, nil
}

func (f *fakeRPC) UpsertEdge(ctx context.Context, in *kgpb.UpsertEdgeRequest, opts ...grpc.CallOption) (*kgpb.UpsertEdgeResponse, error) {
	f.edges = append(f.edges, in)
	return &kgpb.UpsertEdgeResponse{Edge: in.Edge}, nil
}

func TestForCluster_RoundTripsNodeAndEdge(t *testing.T) {
	rpc := &fakeRPC{}
	client := New(rpc).ForCluster()

	if err := client.UpsertNode(context.Background(), "tenant-a", "proj-1", cluster.Node{ID: "n1", Type: "cluster", Properties: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := client.UpsertEdge(context.Background(), "tenant-a", "proj-1", cluster.Edge{ID: "e1", Type: "member", FromID: "n1", ToID: "n2"}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if len(rpc.nodes) != 1 || rpc.nodes[0].Node.Id != "n1" {
		t.Errorf("unexpected node calls: %+v", rpc.nodes)
	}
	if len(rpc.edges) != 1 || rpc.edges[0].Edge.FromId != "n1" {
		t.Errorf("unexpected edge calls: %+v", rpc.edges)
	}
}

func TestForSignal_RoundTripsNodeAndEdge(t *testing.T) {
	rpc := &fakeRPC{}
	client := New(rpc).ForSignal()

	if err := client.UpsertNode(context.Background(), "tenant-a", "proj-1", signal.Node{ID: "n1", Type: "signal"}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := client.UpsertEdge(context.Background(), "tenant-a", "proj-1", signal.Edge{ID: "e1", Type: "relates", FromID: "n1", ToID: "n2"}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if len(rpc.nodes) != 1 || len(rpc.edges) != 1 {
		t.Fatalf("expected one node and one edge call, got nodes=%d edges=%d", len(rpc.nodes), len(rpc.edges))
	}
}

func TestForInsight_RoundTripsNodeAndEdge(t *testing.T) {
	rpc := &fakeRPC{}
	client := New(rpc).ForInsight()

	if err := client.UpsertNode(context.Background(), "tenant-a", "proj-1", insight.Node{ID: "n1", Type: "insight"}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := client.UpsertEdge(context.Background(), "tenant-a", "proj-1", insight.Edge{ID: "e1", Type: "about", FromID: "n1", ToID: "n2"}); err != nil {
		t.Fatalf("UpsertEdge: %v", err)
	}
	if len(rpc.nodes) != 1 || len(rpc.edges) != 1 {
		t.Fatalf("expected one node and one edge call, got nodes=%d edges=%d", len(rpc.nodes), len(rpc.edges))
	}
}

func TestNilClient_ReturnsError(t *testing.T) {
	var c *Client
	if err := c.ForCluster().UpsertNode(context.Background(), "t", "p", cluster.Node{}); err == nil {
		t.Error("expected a nil underlying client to error rather than panic")
	}
}
