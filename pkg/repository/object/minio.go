package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/config"

	errorsx "github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// Location is the region of the buckets created by the MinIO storage.
const Location = "us-east-1"

const uploadAttempts = 3

type minioStorage struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIOStorage creates a new object.Storage implementation using MinIO.
// The bucket is created if it doesn't exist.
func NewMinIOStorage(ctx context.Context, cfg config.MinioConfig, logger *zap.Logger) (Storage, error) {
	logger = logger.With(
		zap.String("storage", "minio"),
		zap.String("host:port", cfg.Host+":"+cfg.Port),
		zap.String("bucket", cfg.BucketName),
	)

	endpoint := cfg.Host
	if cfg.Port != "" {
		endpoint = net.JoinHostPort(cfg.Host, cfg.Port)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.User, cfg.Password, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("checking bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: Location,
		}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
		logger.Info("Successfully created bucket")
	} else {
		logger.Info("Bucket already exists")
	}

	return &minioStorage{
		client: client,
		bucket: cfg.BucketName,
		logger: logger,
	}, nil
}

// UploadFile implements object.Storage.UploadFile
func (m *minioStorage) UploadFile(ctx context.Context, objectPath string, content []byte, mimeType string) error {
	var err error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		// Readers can only be consumed once.
		_, err = m.client.PutObject(
			ctx,
			m.bucket,
			objectPath,
			bytes.NewReader(content),
			int64(len(content)),
			minio.PutObjectOptions{ContentType: mimeType},
		)
		if err == nil {
			return nil
		}
		m.logger.Warn("Failed to upload file to MinIO, retrying...",
			zap.String("objectPath", objectPath),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("uploading %s to MinIO after %d attempts: %w", objectPath, uploadAttempts, err)
}

// GetFile implements object.Storage.GetFile
func (m *minioStorage) GetFile(ctx context.Context, objectPath string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting %s from MinIO: %w", objectPath, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil, fmt.Errorf("%s: %w", objectPath, errorsx.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s from MinIO: %w", objectPath, err)
	}
	return content, nil
}
