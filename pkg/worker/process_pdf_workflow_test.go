package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	qt "github.com/frankban/quicktest"

	"github.com/pdfbot/slack-pdf-backend/config"
	"github.com/pdfbot/slack-pdf-backend/pkg/ai"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

const testFileURL = "https://files.slack.com/files-pri/T1-F1/report.pdf"

func fastPolicy() TaskPolicy {
	p := DefaultTaskPolicy()
	p.InitialInterval = time.Millisecond
	p.MaximumInterval = 10 * time.Millisecond
	return p
}

func newWorkflowEnv(w *Worker) *testsuite.TestWorkflowEnvironment {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.RegisterActivity(w.FetchFileActivity)
	env.RegisterActivity(w.ExtractTextActivity)
	env.RegisterActivity(w.InferMetadataActivity)
	env.RegisterActivity(w.SaveDocumentActivity)
	env.RegisterActivity(w.CleanupStagedContentActivity)
	env.RegisterWorkflow(w.ProcessPDFWorkflow)
	return env
}

func runWorkflow(c *qt.C, w *Worker, item WorkItem) *Result {
	env := newWorkflowEnv(w)
	env.ExecuteWorkflow(w.ProcessPDFWorkflow, item)

	c.Assert(env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(env.GetWorkflowError(), qt.IsNil)

	var result Result
	c.Assert(env.GetWorkflowResult(&result), qt.IsNil)
	return &result
}

func testItem() WorkItem {
	return WorkItem{
		Name:   "report.pdf",
		URL:    testFileURL,
		FileID: "F1",
		Token:  "xoxb-test",
	}
}

func TestProcessPDFWorkflow_Success(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{}
	w := newTestWorker(c, deps)
	w.policy = fastPolicy()
	deps.chat.files[testFileURL] = pdfContent("Quarterly Report\n", "March 2024\n", "Appendix\n")

	result := runWorkflow(c, w, testItem())

	c.Check(result.Status, qt.Equals, StatusSuccess)
	c.Check(result.File, qt.Equals, "report.pdf")
	c.Check(result.Error, qt.Equals, "")
	c.Check(result.Inserted, qt.IsTrue)

	doc, ok := deps.repo.get("F1")
	c.Assert(ok, qt.IsTrue)
	c.Check(*doc.Title, qt.Equals, "Quarterly Report")
	c.Check(*doc.PublicationDate, qt.Equals, "2024-03")
	c.Check(doc.Filename, qt.Equals, "report.pdf")
	// Stored text covers every page, not just the prompt excerpt.
	c.Check(doc.ExtractedText, qt.Equals, "Quarterly Report\nMarch 2024\nAppendix\n")

	c.Assert(deps.inferer.inputs, qt.HasLen, 1)
	c.Check(deps.inferer.inputs[0].PromptText, qt.Contains, "FILENAME: report.pdf")
	c.Check(deps.inferer.inputs[0].PromptText, qt.Not(qt.Contains), "Appendix")
	c.Check(deps.chat.downloads, qt.DeepEquals, []string{"xoxb-test " + testFileURL})
	c.Check(deps.staging.len(), qt.Equals, 0)
}

func TestProcessPDFWorkflow_Idempotent(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{}
	w := newTestWorker(c, deps)
	w.policy = fastPolicy()
	deps.chat.files[testFileURL] = pdfContent("Quarterly Report")

	first := runWorkflow(c, w, testItem())
	c.Check(first.Status, qt.Equals, StatusSuccess)
	c.Check(first.Inserted, qt.IsTrue)

	deps.inferer.metadata.Title = "Another Title"
	second := runWorkflow(c, w, testItem())
	c.Check(second.Status, qt.Equals, StatusSuccess)
	c.Check(second.Inserted, qt.IsFalse)

	c.Check(deps.repo.count(), qt.Equals, 1)
	doc, _ := deps.repo.get("F1")
	c.Check(*doc.Title, qt.Equals, "Quarterly Report")
}

func TestProcessPDFWorkflow_EmptyMetadataStoredAsNull(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{inferer: &fakeInferer{}}
	w := newTestWorker(c, deps)
	w.policy = fastPolicy()
	deps.chat.files[testFileURL] = pdfContent("no obvious title")

	result := runWorkflow(c, w, testItem())
	c.Check(result.Status, qt.Equals, StatusSuccess)

	doc, ok := deps.repo.get("F1")
	c.Assert(ok, qt.IsTrue)
	c.Check(doc.Title, qt.IsNil)
	c.Check(doc.PublicationDate, qt.IsNil)
}

func TestProcessPDFWorkflow_FetchFailsAfterRetries(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{}
	w := newTestWorker(c, deps)
	w.policy = fastPolicy()

	result := runWorkflow(c, w, testItem())

	c.Check(result.Status, qt.Equals, StatusFailed)
	c.Check(result.File, qt.Equals, "report.pdf")
	c.Check(result.Error, qt.Equals, "downloading report.pdf: Network error downloading "+testFileURL+": 404: upstream unavailable")
	c.Check(result.Inserted, qt.IsFalse)

	// First attempt plus MaxRetries.
	c.Check(deps.chat.downloads, qt.HasLen, 6)
	c.Check(deps.repo.count(), qt.Equals, 0)
	c.Check(deps.inferer.calls(), qt.Equals, 0)
	c.Check(deps.staging.len(), qt.Equals, 0)
}

func TestProcessPDFWorkflow_NotPDFIsNotRetried(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{}
	w := newTestWorker(c, deps)
	w.policy = fastPolicy()
	deps.chat.files[testFileURL] = []byte("<!DOCTYPE html><html>Sign in to Slack</html>")

	result := runWorkflow(c, w, testItem())

	c.Check(result.Status, qt.Equals, StatusFailed)
	c.Check(result.Error, qt.Contains, errorsx.ErrNotPDF.Error())
	c.Check(deps.chat.downloads, qt.HasLen, 1)
	c.Check(deps.repo.count(), qt.Equals, 0)
}

func TestProcessPDFWorkflow_StagingExpiresBehindRateLimit(t *testing.T) {
	c := qt.New(t)

	// The inference step waits past the staging TTL and the staged
	// entries are gone by the time the document is saved.
	run := func(c *qt.C, deps *testDeps) *Result {
		w := newTestWorker(c, deps)
		w.policy = fastPolicy()
		deps.chat.files[testFileURL] = pdfContent("Quarterly Report\n", "March 2024\n")

		env := newWorkflowEnv(w)
		env.OnActivity(w.InferMetadataActivity, mock.Anything, mock.Anything).
			After(DefaultStagingTTL + time.Minute).
			Return(func(ctx context.Context, param *InferMetadataActivityParam) (*InferMetadataActivityResult, error) {
				if err := deps.staging.DeleteStagedContent(ctx, param.FileID); err != nil {
					return nil, err
				}
				return &InferMetadataActivityResult{Title: "Quarterly Report", PubDate: "2024-03"}, nil
			})

		env.ExecuteWorkflow(w.ProcessPDFWorkflow, testItem())
		c.Assert(env.IsWorkflowCompleted(), qt.IsTrue)
		c.Assert(env.GetWorkflowError(), qt.IsNil)

		var result Result
		c.Assert(env.GetWorkflowResult(&result), qt.IsNil)
		return &result
	}

	c.Run("restored from the archive", func(c *qt.C) {
		deps := &testDeps{withArchive: true}
		result := run(c, deps)

		c.Check(result.Status, qt.Equals, StatusSuccess, qt.Commentf("error: %s", result.Error))
		c.Check(result.Inserted, qt.IsTrue)
		c.Check(deps.chat.downloads, qt.HasLen, 1)
		c.Check(deps.archive.reads, qt.Equals, 1)

		doc, ok := deps.repo.get("F1")
		c.Assert(ok, qt.IsTrue)
		c.Check(doc.ExtractedText, qt.Equals, "Quarterly Report\nMarch 2024\n")
		c.Check(deps.staging.len(), qt.Equals, 0)
	})

	c.Run("downloaded again without an archive", func(c *qt.C) {
		deps := &testDeps{}
		result := run(c, deps)

		c.Check(result.Status, qt.Equals, StatusSuccess, qt.Commentf("error: %s", result.Error))
		c.Check(deps.chat.downloads, qt.DeepEquals, []string{"xoxb-test " + testFileURL, "xoxb-test " + testFileURL})

		doc, ok := deps.repo.get("F1")
		c.Assert(ok, qt.IsTrue)
		c.Check(doc.ExtractedText, qt.Equals, "Quarterly Report\nMarch 2024\n")
	})
}

func TestErrorMessage(t *testing.T) {
	c := qt.New(t)

	err := activityError("downloading q1.pdf", fetchFileActivityError, fmt.Errorf("Network error: reset: %w", errorsx.ErrUnavailable))
	c.Check(errorMessage(fmt.Errorf("activity failed: %w", err)), qt.Equals, "downloading q1.pdf: Network error: reset: upstream unavailable")

	c.Check(errorMessage(temporal.NewApplicationError("no cause", "Test")), qt.Equals, "no cause")
	c.Check(errorMessage(fmt.Errorf("plain")), qt.Equals, "plain")
}

func TestProcessPDFWorkflow_InferenceRetries(t *testing.T) {
	c := qt.New(t)

	c.Run("recovers within the retry budget", func(c *qt.C) {
		deps := &testDeps{inferer: &fakeInferer{
			metadata: ai.Metadata{Title: "Quarterly Report", PubDate: "2024-03"},
			errs:     []error{errorsx.ErrMalformedMetadata, fmt.Errorf("openai: %w", errorsx.ErrUnavailable)},
		}}
		w := newTestWorker(c, deps)
		w.policy = fastPolicy()
		deps.chat.files[testFileURL] = pdfContent("Quarterly Report")

		result := runWorkflow(c, w, testItem())

		c.Check(result.Status, qt.Equals, StatusSuccess)
		c.Check(deps.inferer.calls(), qt.Equals, 3)
		c.Check(deps.repo.count(), qt.Equals, 1)
	})

	c.Run("gives up after max retries", func(c *qt.C) {
		errs := make([]error, 10)
		for i := range errs {
			errs[i] = errorsx.ErrMalformedMetadata
		}
		deps := &testDeps{inferer: &fakeInferer{errs: errs}}
		w := newTestWorker(c, deps)
		w.policy = fastPolicy()
		w.policy.MaxRetries = 2
		deps.chat.files[testFileURL] = pdfContent("Quarterly Report")

		result := runWorkflow(c, w, testItem())

		c.Check(result.Status, qt.Equals, StatusFailed)
		c.Check(result.Error, qt.Contains, errorsx.ErrMalformedMetadata.Error())
		c.Check(deps.inferer.calls(), qt.Equals, 3)
		c.Check(deps.repo.count(), qt.Equals, 0)
		c.Check(deps.staging.len(), qt.Equals, 0)
	})
}

func TestProcessPDFWorkflow_MissingFields(t *testing.T) {
	c := qt.New(t)

	deps := &testDeps{}
	w := newTestWorker(c, deps)

	result := runWorkflow(c, w, WorkItem{Name: "report.pdf"})

	c.Check(result.Status, qt.Equals, StatusFailed)
	c.Check(result.Error, qt.Equals, "work item has no file ID or URL")
	c.Check(deps.chat.downloads, qt.HasLen, 0)
}

func TestProcessPDFWorkflow_Execute(t *testing.T) {
	c := qt.New(t)

	item := testItem()
	temporalClient := &mocks.Client{}
	temporalClient.On("ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			return opts.ID == "process-pdf-F1" &&
				opts.TaskQueue == TaskQueue &&
				opts.WorkflowIDReusePolicy == enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE &&
				opts.Memo["sync_id"] == "sync-1"
		}),
		ProcessPDFWorkflowName,
		item,
	).Return(&mocks.WorkflowRun{}, nil).Once()

	err := NewProcessPDFWorkflow(temporalClient).Execute(context.Background(), item, "sync-1")
	c.Assert(err, qt.IsNil)
	temporalClient.AssertExpectations(t)

	failing := &mocks.Client{}
	failing.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("connection refused"))

	err = NewProcessPDFWorkflow(failing).Execute(context.Background(), item, "sync-2")
	c.Check(err, qt.ErrorMatches, "connection refused")
}

func TestTaskPolicy(t *testing.T) {
	c := qt.New(t)

	p := DefaultTaskPolicy()
	rp := p.RetryPolicy()
	c.Check(rp.MaximumAttempts, qt.Equals, int32(6))
	c.Check(rp.BackoffCoefficient, qt.Equals, 2.0)
	c.Check(rp.InitialInterval, qt.Equals, time.Second)
	c.Check(p.ActivitiesPerSecond(), qt.Equals, 10.0/60.0)
	c.Check(p.activityTimeout(), qt.Equals, ActivityTimeoutStandard)

	c.Check(TaskPolicy{}.ActivitiesPerSecond(), qt.Equals, 0.0)
	c.Check(TaskPolicy{}.activityTimeout(), qt.Equals, ActivityTimeoutStandard)

	var cfg config.PipelineConfig
	cfg.MaxRetries = 3
	cfg.Backoff.InitialInterval = 2 * time.Second
	cfg.Backoff.Coefficient = 3
	cfg.Backoff.MaximumInterval = time.Minute
	cfg.RateLimit.Count = 30
	cfg.RateLimit.Per = time.Minute
	cfg.ActivityTimeout = time.Minute

	fromCfg := TaskPolicyFromConfig(cfg)
	c.Check(fromCfg.RetryPolicy().MaximumAttempts, qt.Equals, int32(4))
	c.Check(fromCfg.RetryPolicy().BackoffCoefficient, qt.Equals, 3.0)
	c.Check(fromCfg.ActivitiesPerSecond(), qt.Equals, 0.5)
	c.Check(fromCfg.activityTimeout(), qt.Equals, time.Minute)
}
