// Package kgclient wraps the knowledge-graph gRPC service behind the small
// write-only interfaces internal/cluster, internal/signal, and
// internal/insight each declare locally. A single gRPC connection backs all
// three adapters; the adapters exist because each consumer package defines
// its own Node/Edge struct shape (so their KGClient interfaces can't share
// one set of methods on a single receiver type).
package kgclient

import (
	"context"
	"fmt"

	"github.com/nucleus-metadata/ingest-core/internal/cluster"
	"github.com/nucleus-metadata/ingest-core/internal/insight"
	"github.com/nucleus-metadata/ingest-core/internal/signal"
	"github.com/nucleus-metadata/ingest-core/pkg/kgpb"
)

// Client talks to the KG service over gRPC.
type Client struct {
	rpc kgpb.KgServiceClient
}

// New wraps an already-dialed KgService client connection.
func New(rpc kgpb.KgServiceClient) *Client {
	return &Client{rpc: rpc}
}

func (c *Client) upsertNode(ctx context.Context, tenantID, projectID, id, typ string, props map[string]string) error {
	if c == nil || c.rpc == nil {
		return fmt.Errorf("kg client unavailable")
	}
	_, err := c.rpc.UpsertNode(ctx, &kgpb.UpsertNodeRequest{
		TenantId:  tenantID,
		ProjectId: projectID,
		Node:      &kgpb.Node{Id: id, Type: typ, Properties: props},
	})
	return err
}

func (c *Client) upsertEdge(ctx context.Context, tenantID, projectID, id, typ, fromID, toID string, props map[string]string) error {
	if c == nil || c.rpc == nil {
		return fmt.Errorf("kg client unavailable")
	}
	_, err := c.rpc.UpsertEdge(ctx, &kgpb.UpsertEdgeRequest{
		TenantId:  tenantID,
		ProjectId: projectID,
		Edge:      &kgpb.Edge{Id: id, Type: typ, FromId: fromID, ToId: toID, Properties: props},
	})
	return err
}

// ForCluster returns a cluster.KGClient backed by this connection.
func (c *Client) ForCluster() cluster.KGClient { return clusterAdapter{c} }

// ForSignal returns a signal.KGClient backed by this connection.
func (c *Client) ForSignal() signal.KGClient { return signalAdapter{c} }

// ForInsight returns an insight.KGClient backed by this connection.
func (c *Client) ForInsight() insight.KGClient { return insightAdapter{c} }

type clusterAdapter struct{ c *Client }

func (a clusterAdapter) UpsertNode(ctx context.Context, tenantID, projectID string, node cluster.Node) error {
	return a.c.upsertNode(ctx, tenantID, projectID, node.ID, node.Type, node.Properties)
}

func (a clusterAdapter) UpsertEdge(ctx context.Context, tenantID, projectID string, edge cluster.Edge) error {
	return a.c.upsertEdge(ctx, tenantID, projectID, edge.ID, edge.Type, edge.FromID, edge.ToID, nil)
}

type signalAdapter struct{ c *Client }

func (a signalAdapter) UpsertNode(ctx context.Context, tenantID, projectID string, node signal.Node) error {
	return a.c.upsertNode(ctx, tenantID, projectID, node.ID, node.Type, node.Properties)
}

func (a signalAdapter) UpsertEdge(ctx context.Context, tenantID, projectID string, edge signal.Edge) error {
	return a.c.upsertEdge(ctx, tenantID, projectID, edge.ID, edge.Type, edge.FromID, edge.ToID, edge.Properties)
}

type insightAdapter struct{ c *Client }

func (a insightAdapter) UpsertNode(ctx context.Context, tenantID, projectID string, node insight.Node) error {
	return a.c.upsertNode(ctx, tenantID, projectID, node.ID, node.Type, node.Properties)
}

func (a insightAdapter) UpsertEdge(ctx context.Context, tenantID, projectID string, edge insight.Edge) error {
	return a.c.upsertEdge(ctx, tenantID, projectID, edge.ID, edge.Type, edge.FromID, edge.ToID, nil)
}
