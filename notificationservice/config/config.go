package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	AddressStorePostgres  = "postgres"
	AddressStoreFirestore = "firestore"

	DefaultLimit = 50
)

type DatabaseConfig struct {
	URL string
}

type EmailConfig struct {
	APIKey  string
	From    string
	BaseURL string
}

type FCMConfig struct {
	ServiceAccountFile string
	// ServiceAccountJSON is only read from the environment and wins over the file.
	ServiceAccountJSON string
	BaseURL            string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// TriggerConfig enables the Pub/Sub trigger path when SubscriptionID is set.
type TriggerConfig struct {
	TopicID        string
	SubscriptionID string
	DLQTopicID     string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID    string
	ListenAddr   string
	WorkerSecret string
	DefaultLimit int
	AddressStore string

	Database DatabaseConfig
	Email    EmailConfig
	FCM      FCMConfig
	Redis    RedisConfig

	CorsConfig middleware.CorsConfig

	Trigger              TriggerConfig
	NumPipelineWorkers   int
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig

	ScheduleCron string
}

// TriggerEnabled reports whether the Pub/Sub trigger path should run.
func (c *Config) TriggerEnabled() bool {
	return c.Trigger.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, target *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*target = val
		}
	}

	override("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	override("WORKER_SECRET", &cfg.WorkerSecret)
	if val := os.Getenv("DEFAULT_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil && limit > 0 {
			logger.Debug("Overriding config value", "key", "DEFAULT_LIMIT", "source", "env")
			cfg.DefaultLimit = limit
		}
	}
	override("ADDRESS_STORE", &cfg.AddressStore)
	override("DATABASE_URL", &cfg.Database.URL)

	// Email provider
	override("RESEND_API_KEY", &cfg.Email.APIKey)
	override("RESEND_FROM_EMAIL", &cfg.Email.From)
	override("RESEND_BASE_URL", &cfg.Email.BaseURL)

	// Push provider
	override("FCM_SERVICE_ACCOUNT_FILE", &cfg.FCM.ServiceAccountFile)
	override("FCM_SERVICE_ACCOUNT_JSON", &cfg.FCM.ServiceAccountJSON)
	override("FCM_BASE_URL", &cfg.FCM.BaseURL)

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

	// Pub/Sub trigger
	override("TRIGGER_TOPIC_ID", &cfg.Trigger.TopicID)
	if val := os.Getenv("TRIGGER_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TRIGGER_SUBSCRIPTION_ID", "source", "env")
		cfg.Trigger.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	override("TRIGGER_DLQ_TOPIC_ID", &cfg.Trigger.DLQTopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	override("SCHEDULE_CRON", &cfg.ScheduleCron)

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

	// 2. Final Validation
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (set via YAML or DATABASE_URL env var)")
	}
	cfg.AddressStore = strings.ToLower(strings.TrimSpace(cfg.AddressStore))
	if cfg.AddressStore == "" {
		cfg.AddressStore = AddressStorePostgres
	}
	if cfg.AddressStore != AddressStorePostgres && cfg.AddressStore != AddressStoreFirestore {
		return nil, fmt.Errorf("address_store must be %q or %q, got %q", AddressStorePostgres, AddressStoreFirestore, cfg.AddressStore)
	}
	if cfg.ProjectID == "" && (cfg.AddressStore == AddressStoreFirestore || cfg.TriggerEnabled()) {
		return nil, fmt.Errorf("project_id is required for firestore and pub/sub (set via YAML or PROJECT_ID env var)")
	}
	if cfg.TriggerEnabled() && cfg.Trigger.TopicID == "" {
		return nil, fmt.Errorf("trigger topic_id is required when trigger subscription_id is set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when redis is enabled")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.TriggerEnabled() {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Trigger.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
