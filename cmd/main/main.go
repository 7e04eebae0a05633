package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.uber.org/zap"
	"gorm.io/gorm"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/pdfbot/slack-pdf-backend/config"
	"github.com/pdfbot/slack-pdf-backend/pkg/chat"
	"github.com/pdfbot/slack-pdf-backend/pkg/handler"
	"github.com/pdfbot/slack-pdf-backend/pkg/logger"
	"github.com/pdfbot/slack-pdf-backend/pkg/repository"
	"github.com/pdfbot/slack-pdf-backend/pkg/service"
	"github.com/pdfbot/slack-pdf-backend/pkg/temporal"
	"github.com/pdfbot/slack-pdf-backend/pkg/worker"

	database "github.com/pdfbot/slack-pdf-backend/pkg/db"
	customotel "github.com/pdfbot/slack-pdf-backend/pkg/logger/otel"
)

const gracefulShutdownTimeout = 10 * time.Second

var (
	// These variables might be overridden at buildtime.
	serviceName    = "slack-pdf-backend"
	serviceVersion = "dev"
)

func main() {
	// gorm's autoUpdate will use local timezone by default, so we need to set it to UTC
	time.Local = time.UTC

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

	ctx, span := otel.Tracer("main-tracer").Start(ctx, "main")

	logger, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = logger.Sync()
	}()

	db, redisClient, temporalClient, closeClients := newClients(logger)
	defer closeClients()

	slackClient := chat.NewClient(config.Config.Slack.BotToken, chat.Options{
		APIURL:   config.Config.Slack.APIURL,
		PageSize: config.Config.Slack.PageSize,
	})

	svc := service.NewService(
		repository.NewRepository(db),
		repository.NewStagingCache(redisClient),
		slackClient,
		worker.NewProcessPDFWorkflow(temporalClient),
		config.Config.Slack.BotToken,
		logger,
	)

	router, err := handler.NewRouter(handler.NewPublicHandler(svc, logger), handler.RouterOptions{
		RequestTimeout: config.Config.Server.RequestTimeout,
		CORSOrigins:    config.Config.Server.CORSOrigins,
	})
	if err != nil {
		logger.Fatal("Unable to build HTTP router", zap.Error(err))
	}

	publicHTTPServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Config.Server.PublicPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errSig := make(chan error, 1)
	go func() {
		var err error
		switch {
		case config.Config.Server.HTTPS.Cert != "" && config.Config.Server.HTTPS.Key != "":
			err = publicHTTPServer.ListenAndServeTLS(config.Config.Server.HTTPS.Cert, config.Config.Server.HTTPS.Key)
		default:
			err = publicHTTPServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errSig <- err
		}
	}()

	span.End()
	logger.Info("HTTP server is running.", zap.String("addr", publicHTTPServer.Addr))

	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be catch, so don't need add it
	quitSig := make(chan os.Signal, 1)
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errSig:
		logger.Error("Fatal error", zap.Error(err))
	case <-quitSig:
		logger.Info("Shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()
	if err := publicHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
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

	// Lazy so that the API serves /health while Temporal is down.
	temporalClient, err := temporalclient.NewLazyClient(temporalClientOptions)
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
