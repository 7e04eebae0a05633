package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// StagedKind identifies which intermediate artifact of a file is staged.
type StagedKind string

const (
	// StagedRawPDF is the downloaded PDF as fetched from Slack.
	StagedRawPDF StagedKind = "raw"
	// StagedFullText is the text of every page, concatenated in page order.
	StagedFullText StagedKind = "text"
)

// StagingCache keeps the intermediate artifacts of a file between pipeline
// steps, so that activity payloads carry keys instead of document bodies.
type StagingCache interface {
	// SetStagedContent stores data for fileID with the given TTL.
	SetStagedContent(ctx context.Context, fileID string, kind StagedKind, data []byte, ttl time.Duration) error
	// GetStagedContent returns errors.ErrNotFound when the entry is missing
	// or expired.
	GetStagedContent(ctx context.Context, fileID string, kind StagedKind) ([]byte, error)
	// DeleteStagedContent removes every staged artifact of fileID.
	DeleteStagedContent(ctx context.Context, fileID string) error
	// Ping checks the Redis connection.
	Ping(ctx context.Context) error
}

type stagingCache struct {
	redisClient *redis.Client
}

// NewStagingCache creates a Redis-backed StagingCache.
func NewStagingCache(redisClient *redis.Client) StagingCache {
	return &stagingCache{
		redisClient: redisClient,
	}
}

func (s *stagingCache) SetStagedContent(ctx context.Context, fileID string, kind StagedKind, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("TTL must be positive, got: %v", ttl)
	}

	if err := s.redisClient.Set(ctx, StagingKey(fileID, kind), data, ttl).Err(); err != nil {
		return fmt.Errorf("staging %s content of %s in Redis: %w", kind, fileID, err)
	}
	return nil
}

func (s *stagingCache) GetStagedContent(ctx context.Context, fileID string, kind StagedKind) ([]byte, error) {
	data, err := s.redisClient.Get(ctx, StagingKey(fileID, kind)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("staged %s content of %s: %w", kind, fileID, errors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading staged %s content of %s from Redis: %w", kind, fileID, err)
	}
	return data, nil
}

func (s *stagingCache) DeleteStagedContent(ctx context.Context, fileID string) error {
	keys := []string{StagingKey(fileID, StagedRawPDF), StagingKey(fileID, StagedFullText)}
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting staged content of %s from Redis: %w", fileID, err)
	}
	return nil
}

func (s *stagingCache) Ping(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

// StagingKey generates the Redis key of a staged artifact.
// Format: slack-pdf:staging:{file_id}:{kind}
func StagingKey(fileID string, kind StagedKind) string {
	return fmt.Sprintf("slack-pdf:staging:%s:%s", fileID, kind)
}
