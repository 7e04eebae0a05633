package worker

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/pdfbot/slack-pdf-backend/config"
	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/chat"
	"github.com/pdfbot/slack-pdf-backend/pkg/extractor"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository/object"
)

// TaskQueue is the Temporal task queue of the PDF pipeline workflow and of
// every activity except inference.
const TaskQueue = "slack-pdf-ingest"

// InferenceTaskQueue carries only InferMetadataActivity, so that the rate
// limit set on it throttles AI calls and nothing else.
const InferenceTaskQueue = "slack-pdf-ingest-inference"

// ActivityTimeoutStandard is the StartToClose timeout of pipeline activities
// when the policy doesn't set one.
const ActivityTimeoutStandard = 5 * time.Minute

// DefaultStagingTTL bounds how long staged bytes and text live in Redis.
const DefaultStagingTTL = time.Hour

// TaskPolicy is the retry, backoff and rate limit policy of the pipeline.
type TaskPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries         int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	// RateLimitCount inference calls are allowed per RateLimitPer across all
	// workers. A zero count disables the limit.
	RateLimitCount  int
	RateLimitPer    time.Duration
	ActivityTimeout time.Duration
}

// DefaultTaskPolicy: 5 retries with exponential backoff, 10 inference calls
// per minute.
func DefaultTaskPolicy() TaskPolicy {
	return TaskPolicy{
		MaxRetries:         5,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    100 * time.Second,
		RateLimitCount:     10,
		RateLimitPer:       time.Minute,
		ActivityTimeout:    ActivityTimeoutStandard,
	}
}

// TaskPolicyFromConfig builds the policy from the pipeline configuration.
func TaskPolicyFromConfig(cfg config.PipelineConfig) TaskPolicy {
	return TaskPolicy{
		MaxRetries:         cfg.MaxRetries,
		InitialInterval:    cfg.Backoff.InitialInterval,
		BackoffCoefficient: cfg.Backoff.Coefficient,
		MaximumInterval:    cfg.Backoff.MaximumInterval,
		RateLimitCount:     cfg.RateLimit.Count,
		RateLimitPer:       cfg.RateLimit.Per,
		ActivityTimeout:    cfg.ActivityTimeout,
	}
}

// RetryPolicy maps the policy to a Temporal retry policy. MaximumAttempts
// counts the first attempt.
func (p TaskPolicy) RetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    p.InitialInterval,
		BackoffCoefficient: p.BackoffCoefficient,
		MaximumInterval:    p.MaximumInterval,
		MaximumAttempts:    int32(p.MaxRetries + 1),
	}
}

// ActivitiesPerSecond maps the rate limit to the task queue rate of the
// inference queue. Zero means unlimited.
func (p TaskPolicy) ActivitiesPerSecond() float64 {
	if p.RateLimitCount <= 0 || p.RateLimitPer <= 0 {
		return 0
	}
	return float64(p.RateLimitCount) / p.RateLimitPer.Seconds()
}

func (p TaskPolicy) activityTimeout() time.Duration {
	if p.ActivityTimeout <= 0 {
		return ActivityTimeoutStandard
	}
	return p.ActivityTimeout
}

// TextExtractor turns PDF bytes into text.
type TextExtractor interface {
	Extract(content []byte, filename string) (*extractor.Result, error)
}

// Config defines the dependencies of the worker.
type Config struct {
	Repository repository.Repository
	Staging    repository.StagingCache
	Chat       chat.Client
	Extractor  TextExtractor
	Inferer    ai.Inferer
	// Archive is optional. When set, fetched PDFs are copied to it.
	Archive    object.Storage
	Policy     TaskPolicy
	StagingTTL time.Duration
}

// Worker implements the Temporal workflows and activities of the PDF
// pipeline.
type Worker struct {
	repository repository.Repository
	staging    repository.StagingCache
	chat       chat.Client
	extractor  TextExtractor
	inferer    ai.Inferer
	archive    object.Storage
	policy     TaskPolicy
	stagingTTL time.Duration
	log        *zap.Logger
}

// New creates a new worker instance
func New(cfg Config, log *zap.Logger) (*Worker, error) {
	switch {
	case cfg.Repository == nil:
		return nil, fmt.Errorf("worker: repository is required")
	case cfg.Staging == nil:
		return nil, fmt.Errorf("worker: staging cache is required")
	case cfg.Chat == nil:
		return nil, fmt.Errorf("worker: chat client is required")
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("worker: extractor is required")
	case cfg.Inferer == nil:
		return nil, fmt.Errorf("worker: inferer is required")
	}

	ttl := cfg.StagingTTL
	if ttl <= 0 {
		ttl = DefaultStagingTTL
	}

	return &Worker{
		repository: cfg.Repository,
		staging:    cfg.Staging,
		chat:       cfg.Chat,
		extractor:  cfg.Extractor,
		inferer:    cfg.Inferer,
		archive:    cfg.Archive,
		policy:     cfg.Policy,
		stagingTTL: ttl,
		log:        log,
	}, nil
}
