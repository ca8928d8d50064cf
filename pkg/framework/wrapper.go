package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/bootstrap"
	sentryutil "github.com/sitebridge/server/pkg/infrastructure/sentry"
	"github.com/sitebridge/server/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// WrapCloudEvent wraps a handler with automatic execution logging.
// Handles both HTTP and Pub/Sub triggers.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		userID := extractUserID(e)

		triggerType := "pubsub"
		if e.Type() == "google.cloud.functions.http" {
			triggerType = "http"
		}

		logLevelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
		var logLevel slog.Level
		switch logLevelStr {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}

		opts := bootstrap.GetSlogHandlerOptions(logLevel)
		logger := slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", serviceName)
		if userID != "" {
			logger = logger.With("user_id", userID)
		}

		execID := uuid.NewString()
		started := time.Now()
		record := &types.ExecutionRecord{
			ExecutionID: execID,
			Service:     serviceName,
			UserID:      userID,
			TriggerType: triggerType,
			Status:      "STARTED",
			StartedAt:   started,
		}
		if err := svc.DB.SetExecution(ctx, record); err != nil {
			// Continue anyway - don't fail the function just because logging failed
			logger.Error("Failed to log execution start", "error", err)
		}

		logger = logger.With("execution_id", execID)
		logger.Info("Function started")

		fwCtx := &FrameworkContext{
			Service:     svc,
			Logger:      logger,
			ExecutionID: execID,
		}

		outputs, handlerErr := handler(ctx, e, fwCtx)

		finished := time.Now()
		outputsJSON := ""
		if outputs != nil {
			if raw, err := json.Marshal(outputs); err == nil {
				outputsJSON = string(raw)
			}
		}

		if handlerErr != nil {
			logger.Error("Function failed", "error", handlerErr)
			sentryutil.CaptureException(handlerErr, map[string]interface{}{
				"service":      serviceName,
				"execution_id": execID,
			}, logger)
			if logErr := svc.DB.UpdateExecution(ctx, userID, execID, map[string]interface{}{
				"status":       "FAILED",
				"error":        handlerErr.Error(),
				"finished_at":  finished,
				"outputs_json": outputsJSON,
			}); logErr != nil {
				logger.Warn("Failed to log execution failure", "error", logErr)
			}
			return handlerErr
		}

		logger.Info("Function completed successfully")

		status := "SUCCESS"
		if outputsMap, ok := outputs.(map[string]interface{}); ok {
			if s, ok := outputsMap["status"].(string); ok && s != "" {
				status = s
			}
		}

		if logErr := svc.DB.UpdateExecution(ctx, userID, execID, map[string]interface{}{
			"status":       status,
			"finished_at":  finished,
			"outputs_json": outputsJSON,
		}); logErr != nil {
			logger.Warn("Failed to log execution success", "error", logErr)
		}

		return nil
	}
}

// extractUserID pulls the user id out of a Pub/Sub push envelope or a bare
// CloudEvent JSON body.
func extractUserID(e event.Event) string {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		if msg.Message.OrderingKey != "" {
			return msg.Message.OrderingKey
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Message.Data, &payload); err == nil {
			if uid, ok := payload["user_id"].(string); ok {
				return uid
			}
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(e.Data(), &payload); err == nil {
		if uid, ok := payload["user_id"].(string); ok {
			return uid
		}
	}

	return ""
}
