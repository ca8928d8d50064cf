package activityevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/bootstrap"
	"github.com/sitebridge/server/pkg/clientsites"
	"github.com/sitebridge/server/pkg/domain/activity"
	"github.com/sitebridge/server/pkg/domain/refresh"
	"github.com/sitebridge/server/pkg/domain/webhooks"
	"github.com/sitebridge/server/pkg/framework"
	sentryutil "github.com/sitebridge/server/pkg/infrastructure/sentry"
	"github.com/sitebridge/server/pkg/types"
)

var (
	svc      *bootstrap.Service
	registry *clientsites.Registry
	svcOnce  sync.Once
	svcErr   error
)

func init() {
	functions.CloudEvent("ProcessActivityEvent", ProcessActivityEvent)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	if svc != nil {
		return svc, nil
	}
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
		if svcErr != nil {
			return
		}
		registry = clientsites.NewRegistry(context.Background(), svc.Config.ClientSitesURL, bootstrap.NewLogger("activity-events"))
		registry.Start(context.Background())
	})
	return svc, svcErr
}

// ProcessActivityEvent is the entry point
func ProcessActivityEvent(ctx context.Context, e cloudevents.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent("activity-events", svc, eventHandler)(ctx, e)
}

// eventHandler appends the delivered event to the activity log and runs
// the per-kind side effects: completion detection, summary updates,
// enrichment handoff and webhook gating. A returned error means the
// transport should redeliver; permanent failures return a status instead.
func eventHandler(ctx context.Context, e cloudevents.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	incoming, err := decodeEvent(e)
	if err != nil {
		// Undecodable payloads never become decodable on redelivery.
		fwCtx.Logger.Error("Dropping undecodable activity event", "error", err)
		sentryutil.CaptureException(err, map[string]interface{}{"event_id": e.ID()}, fwCtx.Logger)
		return map[string]interface{}{"status": "DROPPED"}, nil
	}

	store := activity.NewStore(fwCtx.Service.DB, fwCtx.Logger)
	projection := activity.NewProjection(fwCtx.Service.DB, fwCtx.Logger)
	orchestrator := refresh.NewOrchestrator(
		fwCtx.Service.DB, store, projection,
		fwCtx.Service.Pub, fwCtx.Service.Notify, registry,
		fwCtx.Service.Config.RefreshFinishedTopic, fwCtx.Logger,
	)
	gate := webhooks.NewGate(
		fwCtx.Service.Pub, fwCtx.Service.Store, fwCtx.Service.Secrets, registry,
		fwCtx.Service.Config.WebhookTopic, fwCtx.Service.Config.GCSArtifactBucket,
		fwCtx.Service.Config.ProjectID, fwCtx.Logger,
	)

	// A spontaneous provider push carries the all-zero sentinel activity
	// id: open a background-refresh activity before the normal path.
	if incoming.ActivityID == uuid.Nil {
		p, ok := incoming.Payload.(types.IngestionFinishedPayload)
		if !ok {
			fwCtx.Logger.Error("Sentinel activity id on a non-ingestion event",
				"kind", incoming.Payload.Kind())
			return map[string]interface{}{"status": "DROPPED"}, nil
		}
		start, err := orchestrator.SynthesizeStart(ctx, incoming.UserID, incoming.ClientID, p.UserSiteID)
		if err != nil {
			return nil, err
		}
		incoming.ActivityID = start.ActivityID
	}

	stored, err := store.Append(ctx, incoming)
	if err != nil {
		return nil, err
	}

	events, err := store.ListByActivity(ctx, stored.UserID, stored.ActivityID)
	if err != nil {
		return nil, err
	}

	complete, err := activity.IsComplete(events)
	if errors.Is(err, activity.ErrNoStartEvent) {
		// Redelivery cannot conjure the missing start event.
		fwCtx.Logger.Error("Terminal event without a start event", "activity_id", stored.ActivityID)
		sentryutil.CaptureException(err, map[string]interface{}{
			"activity_id": stored.ActivityID.String(),
		}, fwCtx.Logger)
		return map[string]interface{}{"status": "NO_START_EVENT"}, nil
	}
	if err != nil {
		return nil, err
	}

	switch p := stored.Payload.(type) {
	case types.StartPayload:
		if err := projection.RecordStart(ctx, stored, p); err != nil {
			return nil, err
		}

	case types.UserSiteRefreshedPayload:
		if p.Outcome == types.OutcomeNewStepNeeded {
			if err := orchestrator.NotifyAttentionRequired(ctx, stored.UserID, p); err != nil {
				fwCtx.Logger.Warn("Attention push failed", "error", err)
			}
		}
		if complete {
			switch {
			case allFailed(events) && p.Outcome == types.OutcomeFailed:
				if err := projection.MarkFailed(ctx, stored.UserID, stored.ActivityID, p, stored.EventTime); err != nil {
					return nil, err
				}
				gate.OnAllFailed(ctx, stored, events)
			case !allFailed(events):
				if err := orchestrator.HandleCompleted(ctx, stored, events); err != nil {
					return nil, err
				}
			}
			// Settled entirely by new-step-needed outcomes: the activity
			// stays open while the user completes the extra consent step.
		}

	case types.IngestionFinishedPayload:
		gate.OnIngestionFinished(ctx, stored, p, events)
		if complete {
			if err := orchestrator.HandleCompleted(ctx, stored, events); err != nil {
				return nil, err
			}
		}

	case types.AggregationFinishedPayload:
		if !orchestrator.AwaitsEnrichment(stored.ClientID) {
			if err := projection.MarkSucceeded(ctx, stored.UserID, stored.ActivityID, p, stored.EventTime); err != nil {
				return nil, err
			}
		}
		gate.OnAggregationFinished(ctx, stored, p, events)

	case types.EnrichmentFinishedPayload:
		if err := projection.MarkSucceeded(ctx, stored.UserID, stored.ActivityID, p, stored.EventTime); err != nil {
			return nil, err
		}
		if origin(events).Feedback() {
			gate.OnFeedbackTrigger(ctx, stored, events)
		} else {
			gate.OnEnrichmentFinished(ctx, stored, p, events)
		}
	}

	return map[string]interface{}{
		"status":      "SUCCESS",
		"activity_id": stored.ActivityID.String(),
		"event_id":    stored.EventID.String(),
		"kind":        string(stored.Payload.Kind()),
		"complete":    complete,
	}, nil
}

// decodeEvent unwraps the Pub/Sub push envelope, falling back to a bare
// CloudEvent body for local invocation.
func decodeEvent(e cloudevents.Event) (*types.ActivityEvent, error) {
	body := e.Data()

	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		body = msg.Message.Data
	}

	var incoming types.ActivityEvent
	if err := json.Unmarshal(body, &incoming); err != nil {
		return nil, fmt.Errorf("decoding activity event: %w", err)
	}
	return &incoming, nil
}

// allFailed reports whether the activity settled without a single
// successful ingestion.
func allFailed(events []types.ActivityEvent) bool {
	for _, e := range events {
		if _, ok := e.Payload.(types.IngestionFinishedPayload); ok {
			return false
		}
	}
	return true
}

func origin(events []types.ActivityEvent) types.StartOrigin {
	for _, e := range events {
		if p, ok := e.Payload.(types.StartPayload); ok {
			return p.Origin
		}
	}
	return ""
}
