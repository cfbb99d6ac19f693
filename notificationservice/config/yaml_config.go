package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlDatabaseConfig struct {
	URL string `yaml:"url"`
}

type YamlEmailConfig struct {
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
	BaseURL string `yaml:"base_url"`
}

type YamlFCMConfig struct {
	ServiceAccountFile string `yaml:"service_account_file"`
	BaseURL            string `yaml:"base_url"`
}

type YamlTriggerConfig struct {
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic_id"`
}

type YamlScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID          string             `yaml:"project_id"`
	ListenAddr         string             `yaml:"listen_addr"`
	WorkerSecret       string             `yaml:"worker_secret"`
	DefaultLimit       int                `yaml:"default_limit"`
	AddressStore       string             `yaml:"address_store"`
	Database           YamlDatabaseConfig `yaml:"database"`
	Email              YamlEmailConfig    `yaml:"email"`
	FCM                YamlFCMConfig      `yaml:"fcm"`
	CorsConfig         YamlCorsConfig     `yaml:"cors"`
	RedisConfig        YamlRedisConfig    `yaml:"redis"`
	Trigger            YamlTriggerConfig  `yaml:"trigger"`
	Schedule           YamlScheduleConfig `yaml:"schedule"`
	NumPipelineWorkers int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:    baseCfg.ProjectID,
		ListenAddr:   baseCfg.ListenAddr,
		WorkerSecret: baseCfg.WorkerSecret,
		DefaultLimit: baseCfg.DefaultLimit,
		AddressStore: baseCfg.AddressStore,
		Database: DatabaseConfig{
			URL: baseCfg.Database.URL,
		},
		Email: EmailConfig{
			APIKey:  baseCfg.Email.APIKey,
			From:    baseCfg.Email.From,
			BaseURL: baseCfg.Email.BaseURL,
		},
		FCM: FCMConfig{
			ServiceAccountFile: baseCfg.FCM.ServiceAccountFile,
			BaseURL:            baseCfg.FCM.BaseURL,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Trigger: TriggerConfig{
			TopicID:        baseCfg.Trigger.TopicID,
			SubscriptionID: baseCfg.Trigger.SubscriptionID,
			DLQTopicID:     baseCfg.Trigger.DLQTopicID,
		},
		NumPipelineWorkers: baseCfg.NumPipelineWorkers,
		ScheduleCron:       baseCfg.Schedule.Cron,
	}

	if cfg.TriggerEnabled() {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Trigger.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"address_store", cfg.AddressStore,
		"trigger_subscription_id", cfg.Trigger.SubscriptionID,
	)

	return cfg, nil
}
