package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-worker/internal/api"
	"github.com/tinywideclouds/go-notification-worker/internal/pipeline"
	"github.com/tinywideclouds/go-notification-worker/internal/scheduler"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
	"github.com/tinywideclouds/go-notification-worker/notificationservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[trigger.Request]
	scheduler       *scheduler.Scheduler
	logger          *slog.Logger
}

// New assembles the service. The HTTP trigger is always served; the Pub/Sub pipeline
// runs when consumer is non-nil and the cron self-trigger when a schedule is configured.
func New(
	cfg *config.Config,
	runner api.Runner,
	consumer messagepipeline.MessageConsumer,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	w := &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}

	// 2. Pipeline (optional)
	if consumer != nil {
		streamingService, err := messagepipeline.NewStreamingService[trigger.Request](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.NewTriggerTransformer(cfg.DefaultLimit),
			pipeline.NewProcessor(runner, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	// 3. Scheduler (optional)
	if cfg.ScheduleCron != "" {
		sched, err := scheduler.New(cfg.ScheduleCron, runner, trigger.DefaultRequest(cfg.DefaultLimit), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		w.scheduler = sched
	}

	// 4. API (Trigger)
	triggerAPI := api.NewTriggerAPI(runner, cfg.WorkerSecret, cfg.DefaultLimit, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// CORS preflight
	mux.Handle("OPTIONS /", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	// Every other method reaches the handler so it can answer 405 itself.
	mux.Handle("/", corsMiddleware(triggerAPI))

	return w, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Trigger pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	if w.scheduler != nil {
		w.scheduler.Start(ctx)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.scheduler != nil {
		if err := w.scheduler.Stop(ctx); err != nil {
			w.logger.Error("Scheduler shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
