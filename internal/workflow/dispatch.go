package workflow

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/nucleus-metadata/ingest-core/internal/obslog"
	"github.com/nucleus-metadata/ingest-core/internal/operation"
)

var logger = obslog.New("workflow", os.Getenv("LOG_LEVEL"))

// Dispatcher starts ingestion operations either through a Temporal workflow
// (when a client is configured) or directly against the in-process
// Operation Manager. Same Manager backs both paths — Temporal only adds
// durability around the activity boundary, it never changes what actually
// runs.
type Dispatcher struct {
	manager  *operation.Manager
	temporal client.Client
}

// NewDispatcher builds a Dispatcher. Pass a nil Temporal client to run every
// operation directly in-process, which is the right default for local
// development and for every test in this module.
func NewDispatcher(mgr *operation.Manager, temporalClient client.Client) *Dispatcher {
	return &Dispatcher{manager: mgr, temporal: temporalClient}
}

// Start launches an operation. Without a Temporal client this calls the
// Manager directly and the operation is tracked only in this process; the
// caller polls operation.Manager.Get for completion.
//
// With a Temporal client, the Manager is never called here — the workflow's
// RunOperation activity calls it instead, once, on whichever worker picks
// up the task. This call only starts the workflow and returns a synthetic
// QUEUED snapshot; operation.Manager.Get on this process won't see it until
// the activity actually runs (possibly on a different worker), so callers
// that need status need the workflow ID (returned in the state's
// OperationID) to query Temporal directly rather than this process's
// Manager.
func (d *Dispatcher) Start(ctx context.Context, req *operation.StartRequest) (*operation.State, error) {
	if d.temporal == nil {
		logger.Info("dispatching operation in-process", "templateId", req.TemplateID, "datasetSlug", req.DatasetSlug)
		return d.manager.Start(ctx, req)
	}

	opts := client.StartWorkflowOptions{
		ID:        req.IdempotencyKey,
		TaskQueue: TaskQueue,
	}
	if opts.ID == "" {
		opts.ID = fmt.Sprintf("%s-%s-%s", req.TenantID, req.ProjectID, req.DatasetSlug)
	}

	run, err := d.temporal.ExecuteWorkflow(ctx, opts, RunIngestOperationWorkflow, *req)
	if err != nil {
		logger.Error("start workflow failed", "workflowId", opts.ID, "error", err)
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	logger.Info("started workflow", "workflowId", opts.ID, "runId", run.GetID())

	return &operation.State{
		OperationID: run.GetID(),
		Status:      operation.StatusQueued,
		Stats:       map[string]string{},
		StartedAt:   time.Now(),
	}, nil
}
