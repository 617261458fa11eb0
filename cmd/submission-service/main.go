// cmd/submission-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"diagram-submissions/internal/api"
	awsstore "diagram-submissions/internal/common/aws"
	"diagram-submissions/internal/common/camunda"
	"diagram-submissions/internal/common/config"
	"diagram-submissions/internal/common/database"
	"diagram-submissions/internal/common/logger"
	"diagram-submissions/internal/common/observability"
	"diagram-submissions/internal/common/storage"
	"diagram-submissions/internal/drawing/surface"
	"diagram-submissions/internal/files"
	"diagram-submissions/internal/pipeline/attempts"
	"diagram-submissions/internal/pipeline/controller"
	"diagram-submissions/internal/pipeline/dispatch"
	"diagram-submissions/internal/pipeline/extractor"
	"diagram-submissions/internal/pipeline/uploader"
	"diagram-submissions/internal/pipeline/validator"
	"diagram-submissions/pkg/registry"

	pq "diagram-submissions/internal/workers/tutoring/present-question"
	rdu "diagram-submissions/internal/workers/tutoring/resolve-drawing-urls"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.WithError(err).Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.FromConfig(cfg.Logging)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting submission service...",
		zap.String("environment", cfg.App.Environment),
		zap.String("dispatcher", cfg.Submission.Dispatcher),
		zap.String("storage", cfg.Storage.Backend),
	)

	obs := observability.New(cfg.App.Name, cfg.Tracing, log)
	defer obs.Shutdown()

	ctx := context.Background()
	checks := map[string]api.HealthCheck{}

	// --- Drawing storage: Postgres index + object store ---
	var fileService *files.Service
	if cfg.Storage.Backend != "none" {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		var store files.ObjectStore
		err = retryWithBackoff(func() error {
			var err error
			store, err = newObjectStore(ctx, cfg.Storage)
			return err
		}, 10, 2*time.Second, log, "Object store connection")
		if err != nil {
			zapLog.Fatal("object store failed after retries", zap.Error(err))
		}

		fileService = files.NewService(pg.DB, store, cfg.Storage, log)
		if err := fileService.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("drawing_files schema setup failed", zap.Error(err))
		}
		checks["postgres"] = pg.Ping
		checks["storage"] = store.Ping
		zapLog.Info("Drawing storage ready", zap.String("backend", store.Name()))
	}

	// --- Attempt store ---
	var rdb redis.Cmdable
	if cfg.Attempts.Backend == attempts.BackendRedis {
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(ctx, cfg.Database.Redis)
			return err
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		rdb = redisClient.Client
		checks["redis"] = redisClient.Ping
	}

	attemptStore, err := attempts.New(cfg.Attempts, rdb, log)
	if err != nil {
		zapLog.Fatal("attempt store setup failed", zap.Error(err))
	}

	// --- Zeebe client ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled || cfg.Submission.Dispatcher == dispatch.TransportZeebe {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(camunda.ClientConfigFrom(cfg.Camunda))
			return err
		}, 10, 2*time.Second, log, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")
	}

	var publisher dispatch.MessagePublisher
	if zeebe != nil {
		publisher = zeebe
	}
	dispatcher, err := dispatch.New(cfg, publisher, log)
	if err != nil {
		zapLog.Fatal("dispatcher setup failed", zap.Error(err))
	}
	defer dispatcher.Close()

	// --- Submission pipeline ---
	templates, err := registry.LoadLibrary(cfg.Templates.RegistryPath)
	if err != nil {
		zapLog.Fatal("template library load failed", zap.Error(err))
	}

	var backend uploader.BatchUploader
	var resolver api.FileResolver
	var urlResolver rdu.URLResolver
	if fileService != nil {
		backend = fileService
		resolver = fileService
		urlResolver = fileService
	}

	controllers := controller.NewRegistry(&controller.Deps{
		Extractor: extractor.New(extractor.Config{
			SceneAttribute: cfg.Submission.SceneAttribute,
			AcceptedTypes:  cfg.Submission.AcceptedImageTypes,
		}, log),
		Limits:          validator.LimitsFromConfig(cfg.Submission.Limits),
		Uploader:        uploader.New(backend, config.GetDuration(cfg.Storage.UploadTimeout), log),
		Attempts:        attemptStore,
		Dispatcher:      dispatcher,
		DispatchTimeout: config.GetDuration(cfg.Submission.DispatchTimeout),
		Recorder:        obs,
		Log:             log,
		Now:             time.Now,
	}, controller.RegistryConfig{
		Capacity: cfg.Attempts.Capacity,
		TTL:      config.GetDuration(cfg.Attempts.TTL),
	})

	// --- Tutoring workers ---
	var workers []*camunda.Worker
	if zeebe != nil && cfg.Camunda.Enabled {
		if wc := config.GetWorkerConfig(cfg, pq.TaskType); wc.Enabled {
			handler := pq.NewHandler(pq.LoadConfig(cfg), attemptStore, log)
			workers = append(workers, camunda.StartWorker(zeebe.GetClient(), pq.TaskType, wc, handler, log))
		}
		if wc := config.GetWorkerConfig(cfg, rdu.TaskType); wc.Enabled {
			handler := rdu.NewHandler(rdu.LoadConfig(cfg), urlResolver, log)
			workers = append(workers, camunda.StartWorker(zeebe.GetClient(), rdu.TaskType, wc, handler, log))
		}
	}
	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- HTTP API ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewAPI(controllers, resolver, templates, surface.NewPNGEncoder(), checks, log))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}

	zapLog.Info("Submission service stopped")
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (files.ObjectStore, error) {
	switch cfg.Backend {
	case "minio":
		return storage.NewMinIOStore(ctx, cfg)
	case "s3":
		return awsstore.NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
