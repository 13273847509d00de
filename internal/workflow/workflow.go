package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/nucleus-metadata/ingest-core/internal/operation"
)

// IngestOperationWorkflowName is the Temporal workflow type registered for
// RunIngestOperationWorkflow.
const IngestOperationWorkflowName = "ingestOperationWorkflow"

// TaskQueue is the queue ingestion workers poll.
const TaskQueue = "ingest-core"

var activityOptions = workflow.ActivityOptions{
	ScheduleToCloseTimeout: 2 * time.Hour,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    3,
	},
}

// RunIngestOperationWorkflow drives one operation through the Activities'
// RunOperation call, applying the module's standard retry policy around the
// activity boundary so a worker crash mid-run gets retried instead of
// silently losing the operation.
func RunIngestOperationWorkflow(ctx workflow.Context, req operation.StartRequest) (*operation.State, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ingest operation workflow started", "templateId", req.TemplateID, "datasetSlug", req.DatasetSlug)

	actCtx := workflow.WithActivityOptions(ctx, activityOptions)

	var a *Activities
	var state operation.State
	err := workflow.ExecuteActivity(actCtx, a.RunOperation, req).Get(ctx, &state)
	if err != nil {
		logger.Error("ingest operation workflow failed", "error", err)
		return nil, err
	}
	logger.Info("ingest operation workflow complete", "operationId", state.OperationID, "status", state.Status)
	return &state, nil
}
