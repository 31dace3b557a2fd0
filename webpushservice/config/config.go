// --- File: webpushservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"

	DefaultSQLitePath       = "webpush.db"
	DefaultVapidTTL         = 30
	DefaultDeliveryTimeout  = 30 * time.Second
	DefaultSnapshotCacheTTL = 5 * time.Minute
)

type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	// TTL is how long (seconds) the push service may hold an undelivered message.
	TTL     int
	Urgency string
}

// BroadcastConfig bounds the fan-out. Zero values mean unlimited / no timeout.
type BroadcastConfig struct {
	MaxConcurrency  int
	DeliveryTimeout time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID           string
	ListenAddr          string
	StorageBackend      string
	SQLitePath          string
	FirestoreCollection string
	IdentityServiceURL  string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	Broadcast  BroadcastConfig

	// Pub/Sub trigger. An empty SubscriptionID disables the pipeline.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether a Pub/Sub subscription has been configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE_BACKEND", "source", "env")
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(val))
	}
	if val := os.Getenv("SQLITE_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "SQLITE_PATH", "source", "env")
		cfg.SQLitePath = val
	}
	if val := os.Getenv("FIRESTORE_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "FIRESTORE_COLLECTION", "source", "env")
		cfg.FirestoreCollection = val
	}

	// Pub/Sub Overrides
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}
	if val := os.Getenv("REDIS_SNAPSHOT_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_SNAPSHOT_TTL %q: %w", val, err)
		}
		cfg.Redis.SnapshotTTL = ttl
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}
	if val := os.Getenv("VAPID_TTL"); val != "" {
		ttl, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid VAPID_TTL %q: %w", val, err)
		}
		cfg.Vapid.TTL = ttl
	}

	// Broadcast Overrides
	if val := os.Getenv("BROADCAST_MAX_CONCURRENCY"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid BROADCAST_MAX_CONCURRENCY %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "BROADCAST_MAX_CONCURRENCY", "source", "env")
		cfg.Broadcast.MaxConcurrency = limit
	}
	if val := os.Getenv("BROADCAST_DELIVERY_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid BROADCAST_DELIVERY_TIMEOUT %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "BROADCAST_DELIVERY_TIMEOUT", "source", "env")
		cfg.Broadcast.DeliveryTimeout = timeout
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageSQLite
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = DefaultSQLitePath
	}
	if cfg.Vapid.TTL <= 0 {
		cfg.Vapid.TTL = DefaultVapidTTL
	}
	if cfg.Redis.SnapshotTTL <= 0 {
		cfg.Redis.SnapshotTTL = DefaultSnapshotCacheTTL
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	switch cfg.StorageBackend {
	case StorageSQLite, StorageFirestore:
	default:
		return nil, fmt.Errorf("storage_backend must be %q or %q, got %q", StorageSQLite, StorageFirestore, cfg.StorageBackend)
	}
	if cfg.ProjectID == "" && (cfg.StorageBackend == StorageFirestore || cfg.PipelineEnabled()) {
		return nil, fmt.Errorf("project_id is required for firestore storage or a pubsub subscription (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Vapid.PublicKey == "" || cfg.Vapid.PrivateKey == "" {
		return nil, fmt.Errorf("vapid public and private keys are required (set via YAML or VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY)")
	}
	if cfg.Broadcast.MaxConcurrency < 0 {
		return nil, fmt.Errorf("broadcast max_concurrency cannot be negative")
	}
	if cfg.Broadcast.DeliveryTimeout < 0 {
		return nil, fmt.Errorf("broadcast delivery_timeout cannot be negative")
	}

	logger.Debug("Configuration finalized and validated successfully",
		"storage_backend", cfg.StorageBackend,
		"pipeline_enabled", cfg.PipelineEnabled(),
		"redis_enabled", cfg.Redis.Enabled,
	)
	return cfg, nil
}
