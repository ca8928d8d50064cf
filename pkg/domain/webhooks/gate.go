// Package webhooks maps activity lifecycle triggers onto outward client
// notifications. Delivery is best effort: the activity summary remains the
// durable source of truth for clients that poll instead of subscribing.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shared "github.com/sitebridge/server/pkg"
	infrapubsub "github.com/sitebridge/server/pkg/infrastructure/pubsub"
	"github.com/sitebridge/server/pkg/types"
)

// ClientConfigs looks up per-client configuration. Satisfied by
// clientsites.Registry.
type ClientConfigs interface {
	Get(clientID string) (types.ClientConfig, bool)
	Ready() bool
}

// Gate decides which lifecycle triggers turn into outward notifications
// and emits the signed webhook envelopes. With no destination topic
// configured every emission is a silent no-op.
type Gate struct {
	pub       shared.Publisher
	blobs     shared.BlobStore
	secrets   shared.SecretStore
	clients   ClientConfigs
	topic     string
	bucket    string
	projectID string
	logger    *slog.Logger
	now       func() time.Time
}

func NewGate(
	pub shared.Publisher,
	blobs shared.BlobStore,
	secrets shared.SecretStore,
	clients ClientConfigs,
	topic, bucket, projectID string,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		pub:       pub,
		blobs:     blobs,
		secrets:   secrets,
		clients:   clients,
		topic:     topic,
		bucket:    bucket,
		projectID: projectID,
		logger:    logger,
		now:       time.Now,
	}
}

// OnIngestionFinished notifies the client that data for one user-site was
// saved. Suppressed for feedback activities: there is nothing new to tell
// the client about a feedback run mid-flight.
func (g *Gate) OnIngestionFinished(ctx context.Context, e *types.ActivityEvent, p types.IngestionFinishedPayload, events []types.ActivityEvent) {
	origin := startOrigin(events)
	if origin.Feedback() {
		g.logger.Debug("Data-saved webhook suppressed for feedback activity", "activity_id", e.ActivityID)
		return
	}

	result := types.UserSiteResult{
		UserSiteID:       p.UserSiteID,
		ConnectionStatus: statusForSite(events, p.UserSiteID),
		Accounts:         p.Accounts,
	}
	g.emit(ctx, e, types.AISWebhookPayload{
		ActivityID:      e.ActivityID,
		Event:           types.WebhookDataSaved,
		Origin:          string(origin),
		UserSiteResults: []types.UserSiteResult{result},
	})
}

// OnAllFailed notifies the client that the activity finished with every
// user-site failed. The completion detector only routes here when no
// user-site succeeded, so the result list is built purely from the
// terminal refresh outcomes.
func (g *Gate) OnAllFailed(ctx context.Context, e *types.ActivityEvent, events []types.ActivityEvent) {
	results := make([]types.UserSiteResult, 0)
	seen := map[uuid.UUID]bool{}
	for _, ev := range events {
		p, ok := ev.Payload.(types.UserSiteRefreshedPayload)
		if !ok || !p.Outcome.Terminal() || seen[p.UserSiteID] {
			continue
		}
		seen[p.UserSiteID] = true
		results = append(results, types.UserSiteResult{
			UserSiteID:       p.UserSiteID,
			ConnectionStatus: p.ConnectionStatus,
			FailureReason:    p.FailureReason,
		})
	}

	g.emit(ctx, e, types.AISWebhookPayload{
		ActivityID:      e.ActivityID,
		Event:           types.WebhookActivityFinished,
		Origin:          string(startOrigin(events)),
		UserSiteResults: results,
	})
}

// OnAggregationFinished notifies the client that the activity finished,
// describing every successfully ingested user-site. Skipped when the
// client still awaits enrichment; the enrichment-finished trigger carries
// the final word in that case.
func (g *Gate) OnAggregationFinished(ctx context.Context, e *types.ActivityEvent, p types.AggregationFinishedPayload, events []types.ActivityEvent) {
	if g.awaitsEnrichment(e.ClientID) {
		g.logger.Debug("Activity-finished webhook deferred to enrichment", "activity_id", e.ActivityID)
		return
	}

	results := make([]types.UserSiteResult, 0, len(p.UserSiteIDs))
	for _, siteID := range p.UserSiteIDs {
		results = append(results, types.UserSiteResult{
			UserSiteID:       siteID,
			ConnectionStatus: statusForSite(events, siteID),
			Accounts:         ingestedAccounts(events, siteID),
		})
	}

	g.emit(ctx, e, types.AISWebhookPayload{
		ActivityID:      e.ActivityID,
		Event:           types.WebhookActivityFinished,
		Origin:          string(startOrigin(events)),
		UserSiteResults: results,
	})
}

// OnEnrichmentFinished notifies the client of the final activity outcome:
// finished on success, timed out when enrichment gave up. Per-site account
// lists merge ingestion and enrichment views, keeping the entry with the
// earlier oldest-changed-transaction date when both name the same account.
func (g *Gate) OnEnrichmentFinished(ctx context.Context, e *types.ActivityEvent, p types.EnrichmentFinishedPayload, events []types.ActivityEvent) {
	eventType := types.WebhookActivityFinished
	if p.Status == types.EnrichmentTimeout {
		eventType = types.WebhookActivityTimedOut
	}

	results := make([]types.UserSiteResult, 0, len(p.AccountsByUserSite))
	for siteID, enriched := range p.AccountsByUserSite {
		results = append(results, types.UserSiteResult{
			UserSiteID:       siteID,
			ConnectionStatus: statusForSite(events, siteID),
			Accounts:         MergeAccounts(ingestedAccounts(events, siteID), enriched),
		})
	}

	g.emit(ctx, e, types.AISWebhookPayload{
		ActivityID:      e.ActivityID,
		Event:           eventType,
		Origin:          string(startOrigin(events)),
		UserSiteResults: results,
	})
}

// OnFeedbackTrigger handles a feedback activity whose enrichment outcome
// may already sit in the log: when the delivered event is not itself the
// enrichment-finished event, the other occurrence of that kind is looked
// up and replayed. With no such event logged yet nothing fires; the
// enrichment-finished delivery will.
func (g *Gate) OnFeedbackTrigger(ctx context.Context, e *types.ActivityEvent, events []types.ActivityEvent) {
	if p, ok := e.Payload.(types.EnrichmentFinishedPayload); ok {
		g.OnEnrichmentFinished(ctx, e, p, events)
		return
	}
	for _, ev := range events {
		if ev.EventID == e.EventID {
			continue
		}
		if p, ok := ev.Payload.(types.EnrichmentFinishedPayload); ok {
			g.OnEnrichmentFinished(ctx, e, p, events)
			return
		}
	}
	g.logger.Debug("Feedback activity awaiting enrichment outcome", "activity_id", e.ActivityID)
}

func (g *Gate) awaitsEnrichment(clientID string) bool {
	if clientID == "" || !g.clients.Ready() {
		return true
	}
	cfg, ok := g.clients.Get(clientID)
	if !ok {
		return true
	}
	return cfg.Enrichment.Any()
}

// emit wraps, signs, archives and publishes one notification. All delivery
// errors are logged and swallowed: the transport owns retries and the
// summary projection owns the truth.
func (g *Gate) emit(ctx context.Context, e *types.ActivityEvent, payload types.AISWebhookPayload) {
	if g.topic == "" {
		return
	}

	var cfg types.ClientConfig
	if g.clients.Ready() {
		var ok bool
		cfg, ok = g.clients.Get(e.ClientID)
		if ok && !cfg.WebhookConfigured {
			g.logger.Debug("Client has no webhook configured", "client_id", e.ClientID)
			return
		}
	}

	envelope := types.WebhookEnvelope{
		ClientID:    e.ClientID,
		UserID:      e.UserID,
		WebhookKind: "AIS",
		SubmittedAt: g.now(),
		Payload:     payload,
	}
	envelope.Signature = g.sign(ctx, cfg, payload)

	g.archive(ctx, &envelope)

	ce, err := infrapubsub.NewCloudEvent(infrapubsub.SourceActivityEvents, infrapubsub.TypeClientWebhook, envelope)
	if err != nil {
		g.logger.Error("Failed to build webhook event", "error", err, "activity_id", payload.ActivityID)
		return
	}
	if _, err := g.pub.PublishCloudEvent(ctx, g.topic, e.UserID, ce); err != nil {
		g.logger.Error("Webhook delivery failed",
			"error", err,
			"activity_id", payload.ActivityID,
			"event", payload.Event,
		)
		return
	}

	g.logger.Info("Webhook emitted",
		"activity_id", payload.ActivityID,
		"event", payload.Event,
		"user_site_count", len(payload.UserSiteResults),
	)
}

// sign computes the hex HMAC-SHA256 of the payload with the client's
// webhook secret. Envelopes go out unsigned when no secret is available.
func (g *Gate) sign(ctx context.Context, cfg types.ClientConfig, payload types.AISWebhookPayload) string {
	if cfg.WebhookSecretName == "" {
		g.logger.Warn("No webhook secret configured, sending unsigned", "client_id", cfg.ClientID)
		return ""
	}
	secret, err := g.secrets.GetSecret(ctx, g.projectID, cfg.WebhookSecretName)
	if err != nil {
		g.logger.Warn("Failed to fetch webhook secret, sending unsigned",
			"client_id", cfg.ClientID, "error", err)
		return ""
	}

	body, err := json.Marshal(payload)
	if err != nil {
		g.logger.Warn("Failed to marshal payload for signing", "error", err)
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gate) archive(ctx context.Context, envelope *types.WebhookEnvelope) {
	if g.bucket == "" {
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		g.logger.Warn("Failed to marshal webhook envelope for archive", "error", err)
		return
	}
	object := fmt.Sprintf("webhooks/%s/%s/%d.json",
		envelope.ClientID, envelope.Payload.ActivityID, envelope.SubmittedAt.UnixMilli())
	if err := g.blobs.Write(ctx, g.bucket, object, data); err != nil {
		g.logger.Warn("Failed to archive webhook envelope", "error", err, "object", object)
	}
}

// MergeAccounts combines two candidate account lists. Entries lacking an
// oldest-changed-transaction date are dropped before comparing; when both
// lists name the same account the entry with the earlier date wins.
func MergeAccounts(a, b []types.AffectedAccount) []types.AffectedAccount {
	merged := make([]types.AffectedAccount, 0, len(a)+len(b))
	byID := make(map[uuid.UUID]int)

	for _, acc := range append(append([]types.AffectedAccount{}, a...), b...) {
		if acc.OldestChangedTransaction == nil {
			continue
		}
		idx, ok := byID[acc.AccountID]
		if !ok {
			byID[acc.AccountID] = len(merged)
			merged = append(merged, acc)
			continue
		}
		if acc.OldestChangedTransaction.Before(merged[idx].OldestChangedTransaction.Time) {
			merged[idx] = acc
		}
	}
	return merged
}

func startOrigin(events []types.ActivityEvent) types.StartOrigin {
	for _, e := range events {
		if p, ok := e.Payload.(types.StartPayload); ok {
			return p.Origin
		}
	}
	return ""
}

// statusForSite returns the connection status from the latest refresh
// outcome recorded for the user-site, defaulting to connected when the
// log holds none.
func statusForSite(events []types.ActivityEvent, siteID uuid.UUID) types.ConnectionStatus {
	status := types.ConnectionConnected
	var at time.Time
	for _, e := range events {
		p, ok := e.Payload.(types.UserSiteRefreshedPayload)
		if !ok || p.UserSiteID != siteID {
			continue
		}
		if at.IsZero() || e.EventTime.After(at) {
			at = e.EventTime
			status = p.ConnectionStatus
		}
	}
	return status
}

// ingestedAccounts unions the affected accounts reported by every
// IngestionFinished event for the user-site, deduplicated by the
// earlier-date rule.
func ingestedAccounts(events []types.ActivityEvent, siteID uuid.UUID) []types.AffectedAccount {
	var accounts []types.AffectedAccount
	for _, e := range events {
		p, ok := e.Payload.(types.IngestionFinishedPayload)
		if !ok || p.UserSiteID != siteID {
			continue
		}
		accounts = MergeAccounts(accounts, p.Accounts)
	}
	return accounts
}
