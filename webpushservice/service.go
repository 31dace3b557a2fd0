// --- File: webpushservice/service.go ---
// Package webpushservice assembles the HTTP surface and the optional Pub/Sub
// trigger pipeline around the dispatch engine.
package webpushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-webpush-service/internal/api"
	"github.com/tinywideclouds/go-webpush-service/internal/pipeline"
	"github.com/tinywideclouds/go-webpush-service/webpushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	// nil when no Pub/Sub subscription is configured.
	pipelineService *messagepipeline.StreamingService[pipeline.BroadcastRequest]
	logger          *slog.Logger
}

// New assembles the service.
// A nil consumer disables the Pub/Sub trigger; a nil authMiddleware leaves
// the send route open.
func New(
	cfg *config.Config,
	engine api.Engine,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[pipeline.BroadcastRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.BroadcastRequestTransformer,
			pipeline.NewProcessor(engine, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	if authMiddleware == nil {
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	// 3. API
	subscriptionAPI := api.NewSubscriptionAPI(engine, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, corsMiddleware(handler))
	}

	// Browser-facing lifecycle routes.
	handle("POST /notifications/subscribe", http.HandlerFunc(subscriptionAPI.Subscribe))
	handle("POST /notifications/unsubscribe", http.HandlerFunc(subscriptionAPI.Unsubscribe))

	// Operator-facing broadcast trigger.
	handle("POST /notifications/send", authMiddleware(http.HandlerFunc(subscriptionAPI.Send)))

	// CORS preflight for the whole namespace.
	mux.Handle("OPTIONS /notifications/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Broadcast trigger pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
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
