package types

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType names the outward notification kinds of the AIS webhook.
type WebhookEventType string

const (
	WebhookDataSaved        WebhookEventType = "DATA_SAVED"
	WebhookActivityFinished WebhookEventType = "ACTIVITY_FINISHED"
	WebhookActivityTimedOut WebhookEventType = "ACTIVITY_TIMED_OUT"
)

// UserSiteResult is the point-in-time outcome for one user-site inside a
// webhook payload.
type UserSiteResult struct {
	UserSiteID       uuid.UUID         `json:"user_site_id"`
	ConnectionStatus ConnectionStatus  `json:"connection_status"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	Accounts         []AffectedAccount `json:"accounts,omitempty"`
}

// AISWebhookPayload is the activity-result body of an outward notification.
type AISWebhookPayload struct {
	ActivityID      uuid.UUID        `json:"activity_id"`
	Event           WebhookEventType `json:"event"`
	Origin          string           `json:"origin,omitempty"`
	UserSiteResults []UserSiteResult `json:"user_site_results"`
}

// WebhookEnvelope wraps a payload with addressing and integrity metadata.
type WebhookEnvelope struct {
	ClientID    string            `json:"client_id"`
	UserID      string            `json:"user_id"`
	WebhookKind string            `json:"webhook_kind"` // always "AIS"
	SubmittedAt time.Time         `json:"submitted_at"`
	Payload     AISWebhookPayload `json:"payload"`
	Signature   string            `json:"signature,omitempty"`
}

// RefreshFinishedEvent is the signal handed to the enrichment pipeline when
// an activity's data fetching completes.
type RefreshFinishedEvent struct {
	ActivityID     uuid.UUID   `json:"activity_id"`
	UserID         string      `json:"user_id"`
	ClientID       string      `json:"client_id,omitempty"`
	Origin         StartOrigin `json:"origin"`
	UserSiteIDs    []uuid.UUID `json:"user_site_ids"`
	StartYearMonth *YearMonth  `json:"start_year_month,omitempty"`
	EndYearMonth   *YearMonth  `json:"end_year_month,omitempty"`
}
