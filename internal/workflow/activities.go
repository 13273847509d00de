// Package workflow wires the Operation Manager into a Temporal workflow so
// an ingestion operation can survive a worker restart. A deployment with no
// Temporal client configured falls back to running operations directly
// in-process through the Dispatcher, which is what every test in this
// module exercises.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/nucleus-metadata/ingest-core/internal/operation"
)

const pollInterval = 2 * time.Second

// Activities bundles the Operation Manager calls a workflow can invoke.
type Activities struct {
	Manager *operation.Manager
}

// NewActivities builds an Activities wrapper around the given manager.
func NewActivities(mgr *operation.Manager) *Activities {
	return &Activities{Manager: mgr}
}

// RunOperation starts an operation and blocks until it reaches a terminal
// state. Registered without a heartbeat timeout (see activityOptions in
// workflow.go), so plain polling is enough; Temporal's own
// ScheduleToCloseTimeout bounds how long this is allowed to run.
func (a *Activities) RunOperation(ctx context.Context, req operation.StartRequest) (*operation.State, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("run operation activity started", "templateId", req.TemplateID, "datasetSlug", req.DatasetSlug)

	state, err := a.Manager.Start(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("start operation: %w", err)
	}

	for state.Status == operation.StatusQueued || state.Status == operation.StatusRunning {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-time.After(pollInterval):
		}
		state, err = a.Manager.Get(ctx, state.OperationID)
		if err != nil {
			return nil, fmt.Errorf("poll operation: %w", err)
		}
	}

	if state.Status == operation.StatusFailed {
		logger.Warn("run operation activity failed", "operationId", state.OperationID, "errorCode", state.ErrorCode)
		return state, fmt.Errorf("operation %s failed: %s (%s)", state.OperationID, state.ErrorMsg, state.ErrorCode)
	}

	logger.Info("run operation activity complete", "operationId", state.OperationID)
	return state, nil
}
