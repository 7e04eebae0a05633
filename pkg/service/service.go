package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/pkg/chat"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"
	"github.com/pdfbot/slack-pdf-backend/pkg/worker"
)

// ProcessPDFWorkflow starts the pipeline of one attachment.
type ProcessPDFWorkflow interface {
	Execute(ctx context.Context, item worker.WorkItem, syncID string) error
}

// Service defines the use cases of the PDF ingest API.
type Service interface {
	// Sync enqueues the PDF attachments posted to channelID since the last
	// processed document.
	Sync(ctx context.Context, channelID string) (*SyncResult, error)
	// ListDocuments returns the stored documents whose title contains query.
	ListDocuments(ctx context.Context, query string) ([]DocumentSummary, error)
	// CheckHealth pings the database and Redis.
	CheckHealth(ctx context.Context) *Health
}

type service struct {
	repository         repository.Repository
	staging            repository.StagingCache
	chat               chat.Client
	processPDFWorkflow ProcessPDFWorkflow
	slackToken         string
	log                *zap.Logger
}

// NewService initiates a service instance. slackToken is handed to the
// pipeline with every work item to authenticate the download.
func NewService(
	r repository.Repository,
	staging repository.StagingCache,
	chatClient chat.Client,
	processPDFWorkflow ProcessPDFWorkflow,
	slackToken string,
	log *zap.Logger,
) Service {
	return &service{
		repository:         r,
		staging:            staging,
		chat:               chatClient,
		processPDFWorkflow: processPDFWorkflow,
		slackToken:         slackToken,
		log:                log,
	}
}
