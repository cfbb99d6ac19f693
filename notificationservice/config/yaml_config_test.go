package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-worker/notificationservice/config"
	"gopkg.in/yaml.v3"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := []byte(`
project_id: yaml-project
listen_addr: ":9000"
worker_secret: yaml-secret
default_limit: 75
address_store: firestore
database:
  url: postgres://yaml
email:
  api_key: yaml-key
  from: yaml@example.com
  base_url: http://resend.local
fcm:
  service_account_file: /secrets/fcm.json
  base_url: http://fcm.local
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
redis:
  addr: redis:6379
  db: 2
  enabled: true
trigger:
  topic_id: yaml-topic
  subscription_id: yaml-subscription
  dlq_topic_id: yaml-dlq
schedule:
  cron: "@every 1m"
num_pipeline_workers: 5
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-secret", cfg.WorkerSecret)
		assert.Equal(t, 75, cfg.DefaultLimit)
		assert.Equal(t, "firestore", cfg.AddressStore)
		assert.Equal(t, "postgres://yaml", cfg.Database.URL)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)
		assert.Equal(t, "@every 1m", cfg.ScheduleCron)

		// 2. Providers
		assert.Equal(t, config.EmailConfig{APIKey: "yaml-key", From: "yaml@example.com", BaseURL: "http://resend.local"}, cfg.Email)
		assert.Equal(t, "/secrets/fcm.json", cfg.FCM.ServiceAccountFile)
		assert.Equal(t, "http://fcm.local", cfg.FCM.BaseURL)
		assert.Empty(t, cfg.FCM.ServiceAccountJSON)

		// 3. Complex Logic: CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 4. Redis and trigger
		assert.Equal(t, config.RedisConfig{Enabled: true, Addr: "redis:6379", DB: 2}, cfg.Redis)
		assert.Equal(t, config.TriggerConfig{TopicID: "yaml-topic", SubscriptionID: "yaml-subscription", DLQTopicID: "yaml-dlq"}, cfg.Trigger)
		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			Database: config.YamlDatabaseConfig{URL: "postgres://minimal"},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "postgres://minimal", cfg.Database.URL)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.False(t, cfg.TriggerEnabled())
		assert.Nil(t, cfg.PubsubConsumerConfig)
	})
}
