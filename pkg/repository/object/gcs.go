package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pdfbot/slack-pdf-backend/config"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

const gcsUploadTimeout = 5 * time.Minute

// gcsStorage implements Storage interface for Google Cloud Storage
type gcsStorage struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStorage creates a new object.Storage implementation using GCS.
// Without a service account key, Application Default Credentials are used.
func NewGCSStorage(ctx context.Context, cfg config.GCSConfig, logger *zap.Logger) (Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket name is required: %w", errorsx.ErrInvalidArgument)
	}

	var opts []option.ClientOption
	if cfg.SAKey != "" {
		saKey, err := unwrapServiceAccountKey([]byte(cfg.SAKey))
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(saKey))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &gcsStorage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(
			zap.String("storage", "gcs"),
			zap.String("project", cfg.ProjectID),
			zap.String("bucket", cfg.Bucket)),
	}, nil
}

// unwrapServiceAccountKey extracts the credentials from a Vault KV response
// (data.data) and returns any other key unchanged.
func unwrapServiceAccountKey(key []byte) ([]byte, error) {
	var keyData map[string]any
	if err := json.Unmarshal(key, &keyData); err != nil {
		return key, nil
	}

	data, ok := keyData["data"].(map[string]any)
	if !ok {
		return key, nil
	}
	innerData, ok := data["data"].(map[string]any)
	if !ok {
		return key, nil
	}

	actualKey, err := json.Marshal(innerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal service account key: %w", err)
	}
	return actualKey, nil
}

// UploadFile implements object.Storage.UploadFile
func (g *gcsStorage) UploadFile(ctx context.Context, objectPath string, content []byte, mimeType string) error {
	uploadCtx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()

	writer := g.client.Bucket(g.bucket).Object(objectPath).NewWriter(uploadCtx)
	writer.ContentType = mimeType

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing %s to GCS: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing GCS writer for %s: %w", objectPath, err)
	}

	g.logger.Debug("Uploaded file to GCS", zap.String("objectPath", objectPath), zap.Int("size", len(content)))
	return nil
}

// GetFile implements object.Storage.GetFile
func (g *gcsStorage) GetFile(ctx context.Context, objectPath string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucket).Object(objectPath).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", objectPath, errorsx.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s in GCS: %w", objectPath, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading %s from GCS: %w", objectPath, err)
	}
	return content, nil
}
