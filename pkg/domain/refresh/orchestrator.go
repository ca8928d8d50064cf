// Package refresh hands completed activities off to the enrichment
// pipeline and handles the bookkeeping around data-fetch outcomes.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/domain/activity"
	infrapubsub "github.com/sitebridge/server/pkg/infrastructure/pubsub"
	"github.com/sitebridge/server/pkg/types"
)

// ClientConfigs looks up per-client configuration. Satisfied by
// clientsites.Registry.
type ClientConfigs interface {
	Get(clientID string) (types.ClientConfig, bool)
	Ready() bool
}

// Orchestrator reacts to a completed data fetch: it publishes the refresh
// finished signal for the enrichment pipeline and, when the client has no
// enrichment entitlement at all, finalizes the activity right away.
type Orchestrator struct {
	db         shared.Database
	store      *activity.Store
	projection *activity.Projection
	pub        shared.Publisher
	notify     shared.NotificationService // nil when push is disabled
	clients    ClientConfigs
	topic      string
	logger     *slog.Logger
}

func NewOrchestrator(
	db shared.Database,
	store *activity.Store,
	projection *activity.Projection,
	pub shared.Publisher,
	notify shared.NotificationService,
	clients ClientConfigs,
	topic string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:         db,
		store:      store,
		projection: projection,
		pub:        pub,
		notify:     notify,
		clients:    clients,
		topic:      topic,
		logger:     logger,
	}
}

// HandleCompleted runs once the completion detector declares the activity's
// data fetching done. Enrichment is always invoked, even for clients
// without an enrichment contract, so downstream consumers see a uniform
// stream; finalization is what differs per client.
func (o *Orchestrator) HandleCompleted(ctx context.Context, trigger *types.ActivityEvent, events []types.ActivityEvent) error {
	origin := startOrigin(events)
	start, end := CoveredRange(events)

	signal := types.RefreshFinishedEvent{
		ActivityID:     trigger.ActivityID,
		UserID:         trigger.UserID,
		ClientID:       trigger.ClientID,
		Origin:         origin,
		UserSiteIDs:    activity.ExpectedUserSites(events),
		StartYearMonth: start,
		EndYearMonth:   end,
	}

	ce, err := infrapubsub.NewCloudEvent(infrapubsub.SourceActivityEvents, infrapubsub.TypeRefreshFinished, signal)
	if err != nil {
		return fmt.Errorf("building refresh finished event for activity %s: %w", trigger.ActivityID, err)
	}
	if _, err := o.pub.PublishCloudEvent(ctx, o.topic, trigger.UserID, ce); err != nil {
		return fmt.Errorf("publishing refresh finished for activity %s: %w", trigger.ActivityID, err)
	}
	o.logger.Info("Refresh finished signal published",
		"activity_id", trigger.ActivityID,
		"user_site_count", len(signal.UserSiteIDs),
	)

	if o.AwaitsEnrichment(trigger.ClientID) {
		return nil
	}

	final := types.AggregationFinishedPayload{UserSiteIDs: signal.UserSiteIDs}
	if err := o.projection.MarkSucceeded(ctx, trigger.UserID, trigger.ActivityID, final, trigger.EventTime); err != nil {
		return fmt.Errorf("finalizing activity %s for non-enrichment client: %w", trigger.ActivityID, err)
	}
	return nil
}

// AwaitsEnrichment reports whether finalization of this client's
// activities must wait for the enrichment-finished event.
func (o *Orchestrator) AwaitsEnrichment(clientID string) bool {
	if clientID == "" || !o.clients.Ready() {
		// Without a registry snapshot, deferring is the safe default: the
		// enrichment-finished event will finalize the activity either way.
		return true
	}
	cfg, ok := o.clients.Get(clientID)
	if !ok {
		return true
	}
	return cfg.Enrichment.Any()
}

// SynthesizeStart handles a spontaneous provider push carrying the all-zero
// sentinel activity id. It opens a fresh background-refresh activity scoped
// to exactly the affected user-site, persists its Start event, and returns
// that event so the caller can continue down the normal completion path
// under the new activity id.
func (o *Orchestrator) SynthesizeStart(ctx context.Context, userID, clientID string, userSiteID uuid.UUID) (*types.ActivityEvent, error) {
	start := &types.ActivityEvent{
		ActivityID: uuid.New(),
		UserID:     userID,
		ClientID:   clientID,
		Payload: types.StartPayload{
			Origin:      types.OriginRefreshUserSitesFlywheel,
			UserSiteIDs: []uuid.UUID{userSiteID},
		},
	}

	stored, err := o.store.Append(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("synthesizing start for spontaneous push on user-site %s: %w", userSiteID, err)
	}
	if err := o.projection.RecordStart(ctx, stored, stored.Payload.(types.StartPayload)); err != nil {
		return nil, err
	}

	o.logger.Info("Synthesized start for spontaneous push",
		"activity_id", stored.ActivityID,
		"user_site_id", userSiteID,
	)
	return stored, nil
}

// NotifyAttentionRequired pushes a notification to the user's devices when
// a refresh needs another authentication step. A no-op when push is
// disabled or the user has no registered tokens.
func (o *Orchestrator) NotifyAttentionRequired(ctx context.Context, userID string, refreshed types.UserSiteRefreshedPayload) error {
	if o.notify == nil {
		return nil
	}

	user, err := o.db.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user for attention push: %w", err)
	}
	if len(user.FcmTokens) == 0 {
		o.logger.Debug("No push tokens registered, skipping attention notification")
		return nil
	}

	body := fmt.Sprintf("%s: another step is needed to keep your connection active.",
		humanize(string(refreshed.ConnectionStatus)))
	return o.notify.SendPushNotification(ctx, userID, "Attention required", body, user.FcmTokens, map[string]string{
		"user_site_id": refreshed.UserSiteID.String(),
		"outcome":      string(refreshed.Outcome),
	})
}

// CoveredRange merges the per-event ingestion ranges into one covered
// window: the minimum start and maximum end over all IngestionFinished
// events. If any contributing event lacks a range the merged window is
// unknown and both bounds are nil.
func CoveredRange(events []types.ActivityEvent) (*types.YearMonth, *types.YearMonth) {
	var start, end *types.YearMonth
	for _, e := range events {
		p, ok := e.Payload.(types.IngestionFinishedPayload)
		if !ok {
			continue
		}
		if p.StartYearMonth == nil || p.EndYearMonth == nil {
			return nil, nil
		}
		if start == nil || p.StartYearMonth.Before(*start) {
			s := *p.StartYearMonth
			start = &s
		}
		if end == nil || p.EndYearMonth.After(*end) {
			e := *p.EndYearMonth
			end = &e
		}
	}
	return start, end
}

func startOrigin(events []types.ActivityEvent) types.StartOrigin {
	for _, e := range events {
		if p, ok := e.Payload.(types.StartPayload); ok {
			return p.Origin
		}
	}
	return ""
}

var titleCaser = cases.Title(language.English)

func humanize(v string) string {
	return titleCaser.String(strings.ReplaceAll(v, "-", " "))
}
