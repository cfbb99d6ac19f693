package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
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

	"github.com/tinywideclouds/go-notification-worker/internal/engine"
	"github.com/tinywideclouds/go-notification-worker/internal/platform/fcm"
	"github.com/tinywideclouds/go-notification-worker/internal/platform/resend"
	"github.com/tinywideclouds/go-notification-worker/internal/resolver"
	"github.com/tinywideclouds/go-notification-worker/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notification-worker/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-worker/internal/storage/postgres"
	"github.com/tinywideclouds/go-notification-worker/internal/trigger"
	"github.com/tinywideclouds/go-notification-worker/pkg/dispatch"

	"github.com/tinywideclouds/go-notification-worker/notificationservice"
	"github.com/tinywideclouds/go-notification-worker/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Job Queue ---
	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Postgres connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := postgres.NewStore(db, logger)

	// --- Address Store ---
	var addresses dispatch.AddressStore = store
	switch cfg.AddressStore {
	case config.AddressStoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		addresses = fsStore.NewAddressStore(fsClient, logger)
	}
	logger.Info("AddressStore initialized", "type", cfg.AddressStore)

	// --- FCM Credentials ---
	var cacheOpts []fcm.CacheOption
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis credential tier...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cacheOpts = append(cacheOpts, fcm.WithSharedStore(cache.NewCredentialStore(redisClient, logger)))
	}
	credentials := fcm.NewCredentialCache(serviceAccountSource(cfg.FCM), logger, cacheOpts...)

	// --- Dispatchers ---
	var fcmOpts []fcm.DispatcherOption
	if cfg.FCM.BaseURL != "" {
		fcmOpts = append(fcmOpts, fcm.WithBaseURL(cfg.FCM.BaseURL))
	}
	pushDispatcher := fcm.NewDispatcher(credentials, addresses, logger, fcmOpts...)

	emailCfg := resend.Config{APIKey: cfg.Email.APIKey, From: cfg.Email.From, BaseURL: cfg.Email.BaseURL}
	if !emailCfg.Configured() {
		logger.Warn("Resend is not configured. Email jobs will fail.")
	}
	emailDispatcher := resend.NewDispatcher(emailCfg, logger)

	dispatchEngine := engine.New(store, resolver.New(addresses), emailDispatcher, pushDispatcher, logger)
	runner := trigger.NewRunner(dispatchEngine, logger)

	// --- Trigger Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.TriggerEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newTriggerConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Trigger consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notificationservice.New(cfg, runner, consumer, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "err", err)
	}
}

// serviceAccountSource prefers the inline key over the key file. The file is re-read on
// every refresh so a rotated key is picked up without a restart.
func serviceAccountSource(cfg config.FCMConfig) fcm.ServiceAccountSource {
	if cfg.ServiceAccountJSON != "" {
		return fcm.StaticServiceAccount([]byte(cfg.ServiceAccountJSON))
	}
	if cfg.ServiceAccountFile != "" {
		return func() ([]byte, error) {
			raw, err := os.ReadFile(cfg.ServiceAccountFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read fcm service account file: %w", err)
			}
			return raw, nil
		}
	}
	return func() ([]byte, error) { return nil, fcm.ErrServiceAccountMissing }
}

func newTriggerConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.Trigger.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.Trigger.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    60,
		EnableMessageOrdering: false,
	}
	if cfg.Trigger.DLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.Trigger.DLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
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

	consumerCfg := *cfg.PubsubConsumerConfig
	consumerCfg.SubscriptionID = subConfig.Name
	return messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
