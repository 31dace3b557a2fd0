// --- File: cmd/webpushservice/serve.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-webpush-service/internal/engine"
	"github.com/tinywideclouds/go-webpush-service/internal/platform/web"
	"github.com/tinywideclouds/go-webpush-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-webpush-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-webpush-service/internal/storage/sqlite"
	"github.com/tinywideclouds/go-webpush-service/pkg/dispatch"
	"github.com/tinywideclouds/go-webpush-service/webpushservice"
	"github.com/tinywideclouds/go-webpush-service/webpushservice/config"
)

//go:embed local.yaml
var configFile []byte

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web push service",
	Long: `Start the HTTP API (subscribe, unsubscribe, send) and, when a
SUBSCRIPTION_ID is configured, the Pub/Sub broadcast trigger.

The server runs until interrupted (Ctrl+C) or receives SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the YAML (flag path or embedded default) and applies env
// overrides. Variables from the env file never replace ones already set.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	raw := configFile
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		raw = b
	}

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Subscription Store (Decorated) ---
	store, closeStore, err := newSubscriptionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		store = cache.NewCachedSubscriptionStore(store, redisClient, cfg.Redis.SnapshotTTL, logger)
		logger.Info("SubscriptionStore upgraded", "type", "redis_cached_"+cfg.StorageBackend)
	}

	// --- Transport & Engine ---
	transport := web.NewTransport(cfg.Vapid, &http.Client{}, logger)
	logger.Info("Web push transport enabled", "public_key", cfg.Vapid.PublicKey)

	eng := engine.New(store, transport, engine.Config{
		MaxConcurrency:  cfg.Broadcast.MaxConcurrency,
		DeliveryTimeout: cfg.Broadcast.DeliveryTimeout,
	}, logger)

	// --- Pub/Sub Trigger (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer func() { _ = psClient.Close() }()

		consumer, err = newTriggerConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	}

	// --- Auth (optional, guards /notifications/send) ---
	var authMiddleware func(http.Handler) http.Handler
	if cfg.IdentityServiceURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
		if err != nil {
			return fmt.Errorf("failed to discover jwks: %w", err)
		}
		authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create auth middleware: %w", err)
		}
		logger.Info("Send endpoint protected", "identity_service", cfg.IdentityServiceURL)
	} else {
		logger.Warn("IDENTITY_SERVICE_URL not set; send endpoint is unauthenticated")
	}

	service, err := webpushservice.New(cfg, eng, consumer, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	logger.Info("Starting service...", "addr", cfg.ListenAddr, "storage", cfg.StorageBackend)
	errChan := make(chan error, 1)
	go func() {
		errChan <- service.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

// newSubscriptionStore opens the configured backend and returns its closer.
func newSubscriptionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.SubscriptionStore, func() error, error) {
	switch cfg.StorageBackend {
	case config.StorageFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		collection := cfg.FirestoreCollection
		if collection == "" {
			collection = fsStore.DefaultCollection
		}
		logger.Info("SubscriptionStore initialized", "type", "firestore", "collection", collection)
		return fsStore.NewFirestoreStore(fsClient, collection, logger), fsClient.Close, nil
	default:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("SubscriptionStore initialized", "type", "sqlite", "path", cfg.SQLitePath)
		return store, store.Close, nil
	}
}

// newTriggerConsumer ensures the trigger subscription exists (with its dead
// letter policy) and returns a consumer for it.
func newTriggerConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 convertPubsub(cfg.ProjectID, cfg.TopicID, "topics"),
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	if cfg.TopicID != "" {
		logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
		_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
		if err != nil {
			if status.Code(err) == codes.AlreadyExists {
				logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
			} else {
				logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
				return nil, fmt.Errorf("could not create sub: %s", sub)
			}
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
