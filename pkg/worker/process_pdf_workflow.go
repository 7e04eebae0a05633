package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ProcessPDFWorkflowName is the registered name of ProcessPDFWorkflow. The
// API server starts runs by name, without a Worker instance.
const ProcessPDFWorkflowName = "ProcessPDFWorkflow"

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// WorkItem is one Slack PDF attachment to process. Its JSON form is the
// wire contract between the sync endpoint and the worker.
type WorkItem struct {
	Name   string `json:"name"`    // Display name of the file
	URL    string `json:"url"`     // Private download URL
	FileID string `json:"file_id"` // Slack file ID, unique per attachment
	Token  string `json:"token"`   // Bearer credential for the download
}

// Result is the outcome of a pipeline run. A run that fails after retries
// still completes the workflow; the failure is reported here.
type Result struct {
	Status string `json:"status"`
	File   string `json:"file"`
	Error  string `json:"error,omitempty"`
	// Inserted is false on success when the file had already been stored.
	Inserted bool `json:"inserted"`
}

// ProcessPDFWorkflow starts pipeline runs.
type ProcessPDFWorkflow struct {
	temporalClient client.Client
}

// NewProcessPDFWorkflow creates a new ProcessPDFWorkflow instance
func NewProcessPDFWorkflow(temporalClient client.Client) *ProcessPDFWorkflow {
	return &ProcessPDFWorkflow{
		temporalClient: temporalClient,
	}
}

// WorkflowID is the ID of the pipeline run of a Slack file.
func WorkflowID(fileID string) string {
	return fmt.Sprintf("process-pdf-%s", fileID)
}

// Execute starts the pipeline for item without waiting for it to complete.
// When a run for the same file is still open, Temporal returns that run and
// no new one is started.
func (w *ProcessPDFWorkflow) Execute(ctx context.Context, item WorkItem, syncID string) error {
	workflowOptions := client.StartWorkflowOptions{
		ID:                    WorkflowID(item.FileID),
		TaskQueue:             TaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		Memo: map[string]any{
			"sync_id": syncID,
		},
	}

	_, err := w.temporalClient.ExecuteWorkflow(ctx, workflowOptions, ProcessPDFWorkflowName, item)
	return err
}

// ProcessPDFWorkflow runs fetch → extract → infer → save for one attachment.
// Each activity retries per the task policy; the inference activity runs on
// the rate-limited InferenceTaskQueue. Staged content is removed whatever the
// outcome.
func (w *Worker) ProcessPDFWorkflow(ctx workflow.Context, item WorkItem) (*Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting ProcessPDFWorkflow", "fileID", item.FileID, "name", item.Name)

	if item.FileID == "" || item.URL == "" {
		return &Result{
			Status: StatusFailed,
			File:   item.Name,
			Error:  "work item has no file ID or URL",
		}, nil
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: w.policy.activityTimeout(),
		RetryPolicy:         w.policy.RetryPolicy(),
	})

	defer func() {
		// Runs even if the workflow is cancelled.
		cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    30 * time.Second,
				MaximumAttempts:    3,
			},
		})

		err := workflow.ExecuteActivity(cleanupCtx, w.CleanupStagedContentActivity, &CleanupStagedContentActivityParam{
			FileID: item.FileID,
		}).Get(cleanupCtx, nil)
		if err != nil {
			logger.Warn("Failed to clean up staged content", "fileID", item.FileID, "error", err)
		}
	}()

	fail := func(stage string, err error) (*Result, error) {
		msg := errorMessage(err)
		logger.Error("Pipeline failed", "stage", stage, "fileID", item.FileID, "error", msg)
		return &Result{
			Status: StatusFailed,
			File:   item.Name,
			Error:  msg,
		}, nil
	}

	var fetched FetchFileActivityResult
	if err := workflow.ExecuteActivity(ctx, w.FetchFileActivity, &FetchFileActivityParam{
		FileID: item.FileID,
		Name:   item.Name,
		URL:    item.URL,
		Token:  item.Token,
	}).Get(ctx, &fetched); err != nil {
		return fail("fetch", err)
	}

	source := ContentSource{
		URL:         item.URL,
		Token:       item.Token,
		ArchivePath: fetched.ArchivePath,
	}

	var extracted ExtractTextActivityResult
	if err := workflow.ExecuteActivity(ctx, w.ExtractTextActivity, &ExtractTextActivityParam{
		FileID: item.FileID,
		Name:   item.Name,
		Source: source,
	}).Get(ctx, &extracted); err != nil {
		return fail("extract", err)
	}

	inferCtx := workflow.WithTaskQueue(ctx, InferenceTaskQueue)
	var inferred InferMetadataActivityResult
	if err := workflow.ExecuteActivity(inferCtx, w.InferMetadataActivity, &InferMetadataActivityParam{
		FileID:     item.FileID,
		Name:       item.Name,
		PromptText: extracted.PromptText,
		Source:     source,
	}).Get(ctx, &inferred); err != nil {
		return fail("infer", err)
	}

	var saved SaveDocumentActivityResult
	if err := workflow.ExecuteActivity(ctx, w.SaveDocumentActivity, &SaveDocumentActivityParam{
		FileID:  item.FileID,
		Name:    item.Name,
		Title:   inferred.Title,
		PubDate: inferred.PubDate,
		Source:  source,
	}).Get(ctx, &saved); err != nil {
		return fail("save", err)
	}

	logger.Info("ProcessPDFWorkflow completed",
		"fileID", item.FileID,
		"pages", extracted.PageCount,
		"inserted", saved.Inserted)

	return &Result{
		Status:   StatusSuccess,
		File:     item.Name,
		Inserted: saved.Inserted,
	}, nil
}

// errorMessage renders an activity failure as "<message>: <cause>", without
// the Temporal error envelopes.
func errorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err.Error()
	}

	msg := appErr.Message()
	cause := errors.Unwrap(appErr)
	if cause == nil {
		return msg
	}

	// Causes that crossed the activity boundary are application errors
	// carrying the original error text as their message.
	var causeErr *temporal.ApplicationError
	if errors.As(cause, &causeErr) {
		return msg + ": " + causeErr.Message()
	}
	return msg + ": " + cause.Error()
}
