// Package object archives fetched documents in an object storage bucket.
package object

import (
	"context"
	"path"
	"strings"
)

// ArchiveDir is the top-level prefix of archived Slack attachments.
const ArchiveDir = "slack"

// PDFMIMEType is the content type of archived documents.
const PDFMIMEType = "application/pdf"

// Storage defines the interface for object storage operations on a single
// bucket.
// Implementations: MinIO, GCS.
type Storage interface {
	// UploadFile writes content to objectPath, replacing any existing object.
	UploadFile(ctx context.Context, objectPath string, content []byte, mimeType string) error
	// GetFile reads the object at objectPath. A missing object returns an
	// error wrapping errors.ErrNotFound.
	GetFile(ctx context.Context, objectPath string) ([]byte, error)
}

// ArchivePath makes the object path of an archived attachment.
// Format: slack/{file_id}/{filename}
func ArchivePath(fileID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fileID + ".pdf"
	}
	return path.Join(ArchiveDir, fileID, name)
}
