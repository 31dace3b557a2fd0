// --- File: webpushservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Enabled     bool   `yaml:"enabled"`
	SnapshotTTL string `yaml:"snapshot_ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
	Urgency         string `yaml:"urgency"`
}

type YamlStorageConfig struct {
	Backend             string `yaml:"backend"`
	SQLitePath          string `yaml:"sqlite_path"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlBroadcastConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	// DeliveryTimeout is a Go duration string. Empty means the default; "0s" disables.
	DeliveryTimeout string `yaml:"delivery_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	Storage                YamlStorageConfig   `yaml:"storage"`
	Broadcast              YamlBroadcastConfig `yaml:"broadcast"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	VapidConfig            YamlVapidConfig     `yaml:"vapid"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	deliveryTimeout := DefaultDeliveryTimeout
	if baseCfg.Broadcast.DeliveryTimeout != "" {
		d, err := time.ParseDuration(baseCfg.Broadcast.DeliveryTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid broadcast.delivery_timeout %q: %w", baseCfg.Broadcast.DeliveryTimeout, err)
		}
		deliveryTimeout = d
	}

	var snapshotTTL time.Duration
	if baseCfg.RedisConfig.SnapshotTTL != "" {
		d, err := time.ParseDuration(baseCfg.RedisConfig.SnapshotTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis.snapshot_ttl %q: %w", baseCfg.RedisConfig.SnapshotTTL, err)
		}
		snapshotTTL = d
	}

	cfg := &Config{
		ProjectID:           baseCfg.ProjectID,
		ListenAddr:          baseCfg.ListenAddr,
		IdentityServiceURL:  baseCfg.IdentityServiceURL,
		StorageBackend:      baseCfg.Storage.Backend,
		SQLitePath:          baseCfg.Storage.SQLitePath,
		FirestoreCollection: baseCfg.Storage.FirestoreCollection,
		TopicID:             baseCfg.TopicID,
		SubscriptionID:      baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:        baseCfg.RedisConfig.Addr,
			Password:    baseCfg.RedisConfig.Password,
			DB:          baseCfg.RedisConfig.DB,
			Enabled:     baseCfg.RedisConfig.Enabled,
			SnapshotTTL: snapshotTTL,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTL:             baseCfg.VapidConfig.TTL,
			Urgency:         baseCfg.VapidConfig.Urgency,
		},
		Broadcast: BroadcastConfig{
			MaxConcurrency:  baseCfg.Broadcast.MaxConcurrency,
			DeliveryTimeout: deliveryTimeout,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.StorageBackend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
