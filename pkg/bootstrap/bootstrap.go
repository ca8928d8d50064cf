package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/infrastructure/database"
	"github.com/sitebridge/server/pkg/infrastructure/notifications"
	infrapubsub "github.com/sitebridge/server/pkg/infrastructure/pubsub"
	"github.com/sitebridge/server/pkg/infrastructure/secrets"
	sentryutil "github.com/sitebridge/server/pkg/infrastructure/sentry"
	infrastorage "github.com/sitebridge/server/pkg/infrastructure/storage"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID             string
	EnablePublish         bool
	EnablePush            bool
	GCSArtifactBucket     string
	WebhookTopic          string // empty disables outward webhooks entirely
	RefreshFinishedTopic  string
	ClientSitesURL        string
	SessionStateRetention time.Duration
	SentryDSN             string
	SentryEnvironment     string
}

// Service holds initialized dependencies
type Service struct {
	DB      shared.Database
	Store   shared.BlobStore
	Pub     shared.Publisher
	Secrets shared.SecretStore
	Notify  shared.NotificationService // nil unless ENABLE_PUSH=true
	Config  *Config
}

// LoadConfig reads configuration from environment variables
func LoadConfig() *Config {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		projectID = shared.ProjectID // Fallback
	}

	retention := 30 * 24 * time.Hour
	if v := os.Getenv("SESSION_STATE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			retention = d
		}
	}

	webhookTopic := os.Getenv("WEBHOOK_TOPIC")
	refreshTopic := os.Getenv("REFRESH_FINISHED_TOPIC")
	if refreshTopic == "" {
		refreshTopic = shared.TopicRefreshFinished
	}

	sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
	if sentryEnv == "" {
		sentryEnv = "production"
	}

	return &Config{
		ProjectID:             projectID,
		EnablePublish:         os.Getenv("ENABLE_PUBLISH") == "true",
		EnablePush:            os.Getenv("ENABLE_PUSH") == "true",
		GCSArtifactBucket:     os.Getenv("GCS_ARTIFACT_BUCKET"),
		WebhookTopic:          webhookTopic,
		RefreshFinishedTopic:  refreshTopic,
		ClientSitesURL:        os.Getenv("CLIENT_SITES_URL"),
		SessionStateRetention: retention,
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		SentryEnvironment:     sentryEnv,
	}
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	// Check if component is overridden in the record attributes
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false // stop
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// InitLogger configures structured logging with Cloud Logging compatible keys
func InitLogger() {
	opts := GetSlogHandlerOptions(slog.LevelInfo)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(&ComponentHandler{Handler: handler})
	slog.SetDefault(logger)
}

// NewLogger creates a configured logger instance
func NewLogger(serviceName string) *slog.Logger {
	logLevelStr := os.Getenv("LOG_LEVEL")
	var level slog.Level
	switch strings.ToLower(logLevelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := GetSlogHandlerOptions(level)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context) (*Service, error) {
	InitLogger()
	cfg := LoadConfig()

	slog.Info("Initializing service", "project_id", cfg.ProjectID)

	if err := sentryutil.Init(sentryutil.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
	}, slog.Default()); err != nil {
		// Error tracking must never block the service itself.
		slog.Warn("Continuing without Sentry", "error", err)
	}

	// Firestore
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		slog.Error("Firestore init failed", "error", err)
		return nil, fmt.Errorf("firestore init: %w", err)
	}

	// Pub/Sub
	var pubAdapter shared.Publisher
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			slog.Error("PubSub init failed", "error", err)
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		pubAdapter = &infrapubsub.PubSubAdapter{Client: psClient}
		slog.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		pubAdapter = &infrapubsub.LogPublisher{}
		slog.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	// Storage
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		slog.Error("Storage init failed", "error", err)
		return nil, fmt.Errorf("storage init: %w", err)
	}

	// Secret Manager
	secretsAdapter, err := secrets.NewSecretsAdapter(ctx)
	if err != nil {
		slog.Error("Secrets init failed", "error", err)
		return nil, fmt.Errorf("secrets init: %w", err)
	}

	// Push notifications
	var notify shared.NotificationService
	if cfg.EnablePush {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			slog.Error("Firebase init failed", "error", err)
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		notify, err = notifications.NewFCMAdapter(ctx, app, fsClient, slog.Default())
		if err != nil {
			slog.Error("FCM init failed", "error", err)
			return nil, fmt.Errorf("fcm init: %w", err)
		}
		slog.Info("Push notifications: REAL (ENABLE_PUSH=true)")
	}

	return &Service{
		DB:      database.NewFirestoreAdapter(fsClient),
		Pub:     pubAdapter,
		Store:   &infrastorage.StorageAdapter{Client: gcsClient},
		Secrets: secretsAdapter,
		Notify:  notify,
		Config:  cfg,
	}, nil
}
