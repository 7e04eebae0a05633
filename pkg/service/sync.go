package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/pkg/worker"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// SyncResult reports what a sync enqueued.
type SyncResult struct {
	SyncID string
	// Queued is the number of PDF attachments handed to the pipeline.
	Queued int
	// Skipped counts the attachments of other file types.
	Skipped int
}

func (s *service) Sync(ctx context.Context, channelID string) (*SyncResult, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is empty: %w", errorsx.ErrInvalidArgument)
	}

	syncID := uuid.Must(uuid.NewV4()).String()
	logger := s.log.With(zap.String("syncID", syncID), zap.String("channelID", channelID))

	watermark, err := s.repository.GetLatestProcessedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}

	messages, err := s.chat.History(ctx, channelID, watermark)
	if err != nil {
		return nil, fmt.Errorf("reading channel history: %w", err)
	}

	logger.Info("Sync: Channel history read",
		zap.Time("watermark", watermark),
		zap.Int("messages", len(messages)))

	result := &SyncResult{SyncID: syncID}
	for _, msg := range messages {
		// Messages older than the watermark are never enqueued.
		if msg.PostedAt.Before(watermark) {
			continue
		}

		for _, file := range msg.Files {
			if !file.IsPDF() {
				result.Skipped++
				continue
			}

			item := worker.WorkItem{
				Name:   file.Name,
				URL:    file.DownloadURL,
				FileID: file.ID,
				Token:  s.slackToken,
			}
			if err := s.processPDFWorkflow.Execute(ctx, item, syncID); err != nil {
				logger.Error("Sync: Failed to enqueue file",
					zap.String("fileID", file.ID),
					zap.Int("queued", result.Queued),
					zap.Error(err))
				return nil, fmt.Errorf("enqueuing %s: %w", file.ID, err)
			}
			result.Queued++
		}
	}

	logger.Info("Sync: Files queued", zap.Int("queued", result.Queued), zap.Int("skipped", result.Skipped))
	return result, nil
}
