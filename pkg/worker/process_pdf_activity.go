package worker

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/extractor"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository/object"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// This file contains the activities of ProcessPDFWorkflow:
// - FetchFileActivity - Downloads the attachment from Slack and stages it
// - ExtractTextActivity - Extracts page text from the staged PDF
// - InferMetadataActivity - Asks the AI model for title and publication date
// - SaveDocumentActivity - Inserts the document unless it already exists
// - CleanupStagedContentActivity - Removes staged content from Redis

// Activity error type constants
const (
	fetchFileActivityError            = "FetchFileActivity"
	extractTextActivityError          = "ExtractTextActivity"
	inferMetadataActivityError        = "InferMetadataActivity"
	saveDocumentActivityError         = "SaveDocumentActivity"
	cleanupStagedContentActivityError = "CleanupStagedContentActivity"
)

// FetchFileActivityParam defines parameters for downloading an attachment
type FetchFileActivityParam struct {
	FileID string // Slack file ID
	Name   string // File display name
	URL    string // Private download URL
	Token  string // Bearer credential
}

// FetchFileActivityResult describes the staged download
type FetchFileActivityResult struct {
	Size        int    // Downloaded bytes
	ArchivePath string // Object path in the archive, empty when not archived
}

// ContentSource locates the original PDF of a file. Activities use it to
// restage content that expired from Redis while the item waited, for example
// behind the inference rate limit.
type ContentSource struct {
	URL         string // Private download URL
	Token       string // Bearer credential
	ArchivePath string // Object path in the archive, empty when not archived
}

// ExtractTextActivityParam defines parameters for text extraction
type ExtractTextActivityParam struct {
	FileID string
	Name   string
	Source ContentSource
}

// ExtractTextActivityResult carries the prompt excerpt; the full text stays
// staged in Redis.
type ExtractTextActivityResult struct {
	PageCount      int
	FullTextLength int
	PromptText     string
}

// InferMetadataActivityParam defines parameters for metadata inference
type InferMetadataActivityParam struct {
	FileID     string
	Name       string
	PromptText string
	Source     ContentSource
}

// InferMetadataActivityResult is the inferred metadata and its cost
type InferMetadataActivityResult struct {
	Title        string
	PubDate      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// SaveDocumentActivityParam defines parameters for persisting a document
type SaveDocumentActivityParam struct {
	FileID  string
	Name    string
	Title   string
	PubDate string
	Source  ContentSource
}

// SaveDocumentActivityResult reports whether a row was written
type SaveDocumentActivityResult struct {
	Inserted bool
}

// CleanupStagedContentActivityParam defines parameters for staging cleanup
type CleanupStagedContentActivityParam struct {
	FileID string
}

// FetchFileActivity downloads the attachment with the item's token, checks
// the PDF signature and stages the bytes for the next steps.
func (w *Worker) FetchFileActivity(ctx context.Context, param *FetchFileActivityParam) (*FetchFileActivityResult, error) {
	logger := w.log.With(zap.String("fileID", param.FileID), zap.String("name", param.Name))
	logger.Info("FetchFileActivity: Downloading file")

	content, err := w.chat.Download(ctx, param.URL, param.Token)
	if err != nil {
		return nil, activityError("downloading "+param.Name, fetchFileActivityError, err)
	}

	// Slack answers unauthorized downloads with an HTML sign-in page.
	if !extractor.IsPDF(content) {
		return nil, activityError("checking "+param.Name, fetchFileActivityError, errorsx.ErrNotPDF)
	}

	if err := w.staging.SetStagedContent(ctx, param.FileID, repository.StagedRawPDF, content, w.stagingTTL); err != nil {
		return nil, activityError("staging "+param.Name, fetchFileActivityError, err)
	}

	result := &FetchFileActivityResult{Size: len(content)}

	if w.archive != nil {
		path := object.ArchivePath(param.FileID, param.Name)
		if err := w.archive.UploadFile(ctx, path, content, object.PDFMIMEType); err != nil {
			// Archiving doesn't gate ingestion.
			logger.Warn("FetchFileActivity: Failed to archive file", zap.String("path", path), zap.Error(err))
		} else {
			result.ArchivePath = path
		}
	}

	logger.Info("FetchFileActivity: File staged", zap.Int("size", result.Size), zap.String("archivePath", result.ArchivePath))
	return result, nil
}

// ExtractTextActivity extracts every page of the staged PDF. The full text is
// staged for SaveDocumentActivity and the prompt excerpt is returned.
func (w *Worker) ExtractTextActivity(ctx context.Context, param *ExtractTextActivityParam) (*ExtractTextActivityResult, error) {
	logger := w.log.With(zap.String("fileID", param.FileID), zap.String("name", param.Name))

	content, err := w.stagedRawPDF(ctx, param.FileID, param.Name, param.Source)
	if err != nil {
		return nil, activityError("reading staged "+param.Name, extractTextActivityError, err)
	}

	res, err := w.extractor.Extract(content, param.Name)
	if err != nil {
		return nil, activityError("extracting text of "+param.Name, extractTextActivityError, err)
	}

	if err := w.staging.SetStagedContent(ctx, param.FileID, repository.StagedFullText, []byte(res.FullText), w.stagingTTL); err != nil {
		return nil, activityError("staging text of "+param.Name, extractTextActivityError, err)
	}

	logger.Info("ExtractTextActivity: Text extracted",
		zap.Int("pages", len(res.Pages)),
		zap.Int("fullTextLength", len(res.FullText)))

	return &ExtractTextActivityResult{
		PageCount:      len(res.Pages),
		FullTextLength: len(res.FullText),
		PromptText:     res.PromptText,
	}, nil
}

// InferMetadataActivity calls the configured AI model once. It runs on
// InferenceTaskQueue, whose rate limit throttles these calls.
func (w *Worker) InferMetadataActivity(ctx context.Context, param *InferMetadataActivityParam) (*InferMetadataActivityResult, error) {
	logger := w.log.With(zap.String("fileID", param.FileID), zap.String("name", param.Name))

	in := ai.Input{
		Filename:   param.Name,
		PromptText: param.PromptText,
	}
	if w.inferer.NeedsRawContent() {
		content, err := w.stagedRawPDF(ctx, param.FileID, param.Name, param.Source)
		if err != nil {
			return nil, activityError("reading staged "+param.Name, inferMetadataActivityError, err)
		}
		in.Content = content
	}

	res, err := w.inferer.InferMetadata(ctx, in)
	if err != nil {
		return nil, activityError("inferring metadata of "+param.Name, inferMetadataActivityError, err)
	}

	logger.Info("InferMetadataActivity: Token usage",
		zap.String("provider", w.inferer.Name()),
		zap.String("model", res.Model),
		zap.Int64("input", res.Usage.InputTokens),
		zap.Int64("output", res.Usage.OutputTokens),
		zap.Int64("total", res.Usage.TotalTokens))

	return &InferMetadataActivityResult{
		Title:        res.Metadata.Title,
		PubDate:      res.Metadata.PubDate,
		Model:        res.Model,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		TotalTokens:  res.Usage.TotalTokens,
	}, nil
}

// SaveDocumentActivity inserts the document with the staged full text. A
// document with the same file ID is left untouched.
func (w *Worker) SaveDocumentActivity(ctx context.Context, param *SaveDocumentActivityParam) (*SaveDocumentActivityResult, error) {
	logger := w.log.With(zap.String("fileID", param.FileID), zap.String("name", param.Name))

	fullText, err := w.stagedFullText(ctx, param.FileID, param.Name, param.Source)
	if err != nil {
		return nil, activityError("reading staged text of "+param.Name, saveDocumentActivityError, err)
	}

	doc := &repository.Document{
		Title:           nullIfEmpty(param.Title),
		PublicationDate: nullIfEmpty(param.PubDate),
		Filename:        param.Name,
		ExtractedText:   string(fullText),
		ExternalFileID:  param.FileID,
	}

	inserted, err := w.repository.InsertDocumentIfAbsent(ctx, doc)
	if err != nil {
		return nil, activityError("saving "+param.Name, saveDocumentActivityError, err)
	}

	if inserted {
		logger.Info("SaveDocumentActivity: Document saved", zap.Uint("id", doc.ID))
	} else {
		logger.Info("SaveDocumentActivity: Document already stored, skipping")
	}

	return &SaveDocumentActivityResult{Inserted: inserted}, nil
}

// CleanupStagedContentActivity removes the staged bytes and text of a file.
func (w *Worker) CleanupStagedContentActivity(ctx context.Context, param *CleanupStagedContentActivityParam) error {
	if err := w.staging.DeleteStagedContent(ctx, param.FileID); err != nil {
		return activityError("cleaning up "+param.FileID, cleanupStagedContentActivityError, err)
	}
	return nil
}

// stagedRawPDF reads the staged PDF of a file. When the entry has expired,
// the PDF is read back from the archive or downloaded again, and restaged.
func (w *Worker) stagedRawPDF(ctx context.Context, fileID, name string, src ContentSource) ([]byte, error) {
	content, err := w.staging.GetStagedContent(ctx, fileID, repository.StagedRawPDF)
	if !errors.Is(err, errorsx.ErrNotFound) {
		return content, err
	}

	content, err = w.recoverRawPDF(ctx, fileID, name, src, err)
	if err != nil {
		return nil, err
	}

	if err := w.staging.SetStagedContent(ctx, fileID, repository.StagedRawPDF, content, w.stagingTTL); err != nil {
		return nil, err
	}
	return content, nil
}

// stagedFullText reads the staged full text of a file. When the entry has
// expired, the text is extracted again from the original PDF.
func (w *Worker) stagedFullText(ctx context.Context, fileID, name string, src ContentSource) ([]byte, error) {
	text, err := w.staging.GetStagedContent(ctx, fileID, repository.StagedFullText)
	if !errors.Is(err, errorsx.ErrNotFound) {
		return text, err
	}

	content, err := w.stagedRawPDF(ctx, fileID, name, src)
	if err != nil {
		return nil, err
	}

	res, err := w.extractor.Extract(content, name)
	if err != nil {
		return nil, err
	}

	text = []byte(res.FullText)
	if err := w.staging.SetStagedContent(ctx, fileID, repository.StagedFullText, text, w.stagingTTL); err != nil {
		return nil, err
	}
	return text, nil
}

// recoverRawPDF fetches the original PDF of a file whose staged copy is gone.
// The archive is tried first. Without any source, missErr is returned.
func (w *Worker) recoverRawPDF(ctx context.Context, fileID, name string, src ContentSource, missErr error) ([]byte, error) {
	logger := w.log.With(zap.String("fileID", fileID), zap.String("name", name))

	if w.archive != nil && src.ArchivePath != "" {
		content, err := w.archive.GetFile(ctx, src.ArchivePath)
		if err == nil && extractor.IsPDF(content) {
			logger.Info("Staged content expired, restored from archive", zap.String("path", src.ArchivePath))
			return content, nil
		}
		logger.Warn("Failed to restore staged content from archive", zap.String("path", src.ArchivePath), zap.Error(err))
	}

	if src.URL == "" {
		return nil, missErr
	}

	content, err := w.chat.Download(ctx, src.URL, src.Token)
	if err != nil {
		return nil, err
	}
	if !extractor.IsPDF(content) {
		return nil, fmt.Errorf("%s: %w", name, errorsx.ErrNotPDF)
	}

	logger.Info("Staged content expired, downloaded again", zap.Int("size", len(content)))
	return content, nil
}

// activityError wraps err in a Temporal application error. Failures that a
// retry can't fix are marked non-retryable.
func activityError(msg, errType string, err error) error {
	if isPermanent(err) {
		return temporal.NewNonRetryableApplicationError(msg, errType, err)
	}
	return temporal.NewApplicationErrorWithCause(msg, errType, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, errorsx.ErrNotPDF) ||
		errors.Is(err, errorsx.ErrNotFound) ||
		errors.Is(err, errorsx.ErrInvalidArgument)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
