package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/pdfbot/slack-pdf-backend/config"
	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/ai/gemini"
	"github.com/pdfbot/slack-pdf-backend/pkg/ai/openai"
	"github.com/pdfbot/slack-pdf-backend/pkg/chat"
	"github.com/pdfbot/slack-pdf-backend/pkg/extractor"
	"github.com/pdfbot/slack-pdf-backend/pkg/logger"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository/object"
	"github.com/pdfbot/slack-pdf-backend/pkg/temporal"

	database "github.com/pdfbot/slack-pdf-backend/pkg/db"
	customotel "github.com/pdfbot/slack-pdf-backend/pkg/logger/otel"
	pdfworker "github.com/pdfbot/slack-pdf-backend/pkg/worker"
)

var (
	// These variables might be overridden at buildtime.
	serviceName    = "slack-pdf-backend-worker"
	serviceVersion = "dev"
)

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		log.Fatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := customotel.SetupTracing(ctx, serviceName, serviceVersion, config.Config.OTELCollector)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	logger, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	db, redisClient, temporalClient, closeClients := newClients(logger)
	defer closeClients()

	archive, err := newArchive(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize archive storage", zap.Error(err))
	}

	inferer, err := newInferer(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize AI client", zap.Error(err))
	}

	policy := pdfworker.TaskPolicyFromConfig(config.Config.Pipeline)

	cw, err := pdfworker.New(pdfworker.Config{
		Repository: repository.NewRepository(db),
		Staging:    repository.NewStagingCache(redisClient),
		Chat: chat.NewClient(config.Config.Slack.BotToken, chat.Options{
			APIURL:   config.Config.Slack.APIURL,
			PageSize: config.Config.Slack.PageSize,
		}),
		Extractor:  extractor.NewPDFExtractor(config.Config.Pipeline.PromptPages),
		Inferer:    inferer,
		Archive:    archive,
		Policy:     policy,
		StagingTTL: config.Config.Cache.Redis.StagingTTL,
	}, logger)
	if err != nil {
		logger.Fatal("Unable to create worker", zap.Error(err))
	}

	interceptors := workerInterceptors(logger)

	// Pipeline queue: the workflow and every activity except inference.
	w := worker.New(temporalClient, pdfworker.TaskQueue, worker.Options{
		WorkflowPanicPolicy:                    worker.BlockWorkflow,
		WorkerStopTimeout:                      config.Config.Worker.StopTimeout,
		MaxConcurrentActivityExecutionSize:     config.Config.Worker.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: config.Config.Worker.MaxConcurrentWorkflows,
		Interceptors:                           interceptors,
	})

	w.RegisterWorkflowWithOptions(cw.ProcessPDFWorkflow, workflow.RegisterOptions{Name: pdfworker.ProcessPDFWorkflowName})

	w.RegisterActivity(cw.FetchFileActivity)            // Download from Slack and stage in Redis
	w.RegisterActivity(cw.ExtractTextActivity)          // Extract page text from the staged PDF
	w.RegisterActivity(cw.SaveDocumentActivity)         // Insert-or-ignore into pdf_content
	w.RegisterActivity(cw.CleanupStagedContentActivity) // Drop staged bytes and text

	// Inference queue: rate limited across all workers polling it.
	iw := worker.New(temporalClient, pdfworker.InferenceTaskQueue, worker.Options{
		WorkerStopTimeout:                  config.Config.Worker.StopTimeout,
		MaxConcurrentActivityExecutionSize: config.Config.Worker.MaxConcurrentActivities,
		TaskQueueActivitiesPerSecond:       policy.ActivitiesPerSecond(),
		Interceptors:                       interceptors,
	})

	iw.RegisterActivity(cw.InferMetadataActivity)

	if err := w.Start(); err != nil {
		logger.Fatal(fmt.Sprintf("Unable to start worker: %s", err))
	}
	if err := iw.Start(); err != nil {
		logger.Fatal(fmt.Sprintf("Unable to start inference worker: %s", err))
	}

	logger.Info("Temporal workers started successfully and are polling for tasks",
		zap.String("inferer", inferer.Name()),
		zap.Int("maxRetries", policy.MaxRetries),
		zap.Float64("inferencePerSecond", policy.ActivitiesPerSecond()))

	// Setup graceful shutdown on SIGTERM (kill) and SIGINT (Ctrl+C)
	// Note: SIGKILL (kill -9) cannot be caught and will force immediate termination
	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	<-quitSig

	logger.Info("Shutting down workers...")
	iw.Stop()
	w.Stop()
}

func workerInterceptors(logger *zap.Logger) []interceptor.WorkerInterceptor {
	if !config.Config.OTELCollector.Enable {
		return nil
	}
	workerInterceptor, err := opentelemetry.NewTracingInterceptor(opentelemetry.TracerOptions{
		Tracer:            otel.Tracer(serviceName),
		TextMapPropagator: otel.GetTextMapPropagator(),
	})
	if err != nil {
		logger.Fatal("Unable to create worker tracing interceptor", zap.Error(err))
	}
	return []interceptor.WorkerInterceptor{workerInterceptor}
}

// newClients initializes the external clients and returns a cleanup function
func newClients(logger *zap.Logger) (*gorm.DB, *redis.Client, temporalclient.Client, func()) {
	closeFuncs := map[string]func() error{}

	db, err := database.GetSharedConnection(config.Config.Database, config.Config.Server.Debug)
	if err != nil {
		logger.Fatal("Unable to connect to the database", zap.Error(err))
	}
	closeFuncs["database"] = func() error {
		return database.Close(db)
	}

	redisClient := redis.NewClient(&config.Config.Cache.Redis.RedisOptions)
	closeFuncs["redis"] = redisClient.Close

	temporalClientOptions, err := temporal.ClientOptions(config.Config.Temporal, logger)
	if err != nil {
		logger.Fatal("Unable to build Temporal client options", zap.Error(err))
	}

	if config.Config.OTELCollector.Enable {
		temporalTracingInterceptor, err := opentelemetry.NewTracingInterceptor(opentelemetry.TracerOptions{
			Tracer:            otel.Tracer(serviceName),
			TextMapPropagator: otel.GetTextMapPropagator(),
		})
		if err != nil {
			logger.Fatal("Unable to create temporal tracing interceptor", zap.Error(err))
		}
		temporalClientOptions.Interceptors = []interceptor.ClientInterceptor{temporalTracingInterceptor}
	}

	temporalClient, err := temporalclient.Dial(temporalClientOptions)
	if err != nil {
		logger.Fatal("Unable to create Temporal client", zap.Error(err))
	}
	closeFuncs["temporal"] = func() error {
		temporalClient.Close()
		return nil
	}

	closer := func() {
		for conn, fn := range closeFuncs {
			if err := fn(); err != nil {
				logger.Error("Failed to close conn", zap.Error(err), zap.String("conn", conn))
			}
		}
	}

	return db, redisClient, temporalClient, closer
}

// newInferer creates the metadata inferer selected by ai.provider. Only one
// provider is active per deployment.
func newInferer(ctx context.Context, logger *zap.Logger) (ai.Inferer, error) {
	cfg := config.Config.AI

	var inferer ai.Inferer
	switch cfg.Provider {
	case ai.ProviderGemini:
		geminiClient, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		inferer = geminiClient
	default:
		openaiClient, err := openai.NewClient(openai.Options{
			APIKey:          cfg.OpenAI.APIKey,
			Model:           cfg.OpenAI.Model,
			BaseURL:         cfg.OpenAI.BaseURL,
			MaxPromptTokens: cfg.OpenAI.MaxPromptTokens,
		})
		if err != nil {
			return nil, err
		}
		inferer = openaiClient
	}

	logger.Info("AI client initialized", zap.String("client", inferer.Name()))
	return inferer, nil
}

// newArchive creates the archive storage selected by archive.provider. A nil
// storage disables archiving.
func newArchive(ctx context.Context, logger *zap.Logger) (object.Storage, error) {
	cfg := config.Config.Archive

	switch cfg.Provider {
	case "minio":
		logger.Info("Initializing MinIO archive", zap.String("bucket", cfg.Minio.BucketName), zap.String("host", cfg.Minio.Host))
		return object.NewMinIOStorage(ctx, cfg.Minio, logger)
	case "gcs":
		logger.Info("Initializing GCS archive", zap.String("bucket", cfg.GCS.Bucket))
		return object.NewGCSStorage(ctx, cfg.GCS, logger)
	default:
		logger.Info("Archive disabled")
		return nil, nil
	}
}
