package types

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is the queryable summary projection of one activity.
// EndTime is nil until the activity finishes and is set at most once.
type ActivityRecord struct {
	ActivityID  uuid.UUID   `firestore:"activity_id" json:"activity_id"`
	UserID      string      `firestore:"user_id" json:"user_id"`
	ClientID    string      `firestore:"client_id" json:"client_id,omitempty"`
	Origin      StartOrigin `firestore:"origin" json:"origin"`
	StartTime   time.Time   `firestore:"start_time" json:"start_time"`
	EndTime     *time.Time  `firestore:"end_time" json:"end_time,omitempty"`
	UserSiteIDs []uuid.UUID `firestore:"user_site_ids" json:"user_site_ids"`
}

// Running reports whether the activity has not finished yet.
func (a *ActivityRecord) Running() bool { return a.EndTime == nil }

// ConsentOperation is the user-site operation a consent session guards.
type ConsentOperation string

const (
	OperationCreateUserSite ConsentOperation = "create-user-site"
	OperationUpdateUserSite ConsentOperation = "update-user-site"
)

// ConsentSessionRecord is the live handshake state for one user-site.
// At most one exists per (user, user-site); StateID rotates on every
// accepted submit. Created approximates true consent age and is copied
// forward across token renewals, never reset.
type ConsentSessionRecord struct {
	UserID            string           `firestore:"user_id"`
	UserSiteID        uuid.UUID        `firestore:"user_site_id"`
	StateID           uuid.UUID        `firestore:"state_id"`
	SiteID            uuid.UUID        `firestore:"site_id"`
	Provider          string           `firestore:"provider"`
	Operation         ConsentOperation `firestore:"operation"`
	RedirectURLID     string           `firestore:"redirect_url_id"`
	ProviderState     string           `firestore:"provider_state,omitempty"`
	ExternalConsentID string           `firestore:"external_consent_id,omitempty"`
	FormStep          string           `firestore:"form_step,omitempty"`
	RedirectURLStep   string           `firestore:"redirect_url_step,omitempty"`
	StepNumber        int              `firestore:"step_number"`
	ActivityID        uuid.UUID        `firestore:"activity_id"`
	ClientID          string           `firestore:"client_id"`
	Created           time.Time        `firestore:"created"`

	// Only populated for update operations: the connection state to
	// restore when the update flow fails.
	OriginalConnectionStatus ConnectionStatus `firestore:"original_connection_status,omitempty"`
	OriginalFailureReason    string           `firestore:"original_failure_reason,omitempty"`
}

// SessionStateRecord is one row of the append-only audit trail of issued
// state nonces. It is never consulted for authorization, only to classify
// submit failures. ExpiresAt drives the Firestore TTL policy.
type SessionStateRecord struct {
	UserID        string     `firestore:"user_id"`
	StateID       uuid.UUID  `firestore:"state_id"`
	UserSiteID    uuid.UUID  `firestore:"user_site_id"`
	Created       time.Time  `firestore:"created"`
	Submitted     bool       `firestore:"submitted"`
	SubmittedTime *time.Time `firestore:"submitted_time,omitempty"`
	ExpiresAt     time.Time  `firestore:"expires_at"`
}

// ExecutionRecord captures one function invocation for the executions audit.
type ExecutionRecord struct {
	ExecutionID string     `firestore:"execution_id"`
	Service     string     `firestore:"service"`
	UserID      string     `firestore:"user_id,omitempty"`
	TriggerType string     `firestore:"trigger_type"`
	Status      string     `firestore:"status"`
	StartedAt   time.Time  `firestore:"started_at"`
	FinishedAt  *time.Time `firestore:"finished_at,omitempty"`
	Error       string     `firestore:"error,omitempty"`
	OutputsJSON string     `firestore:"outputs_json,omitempty"`
}

// EnrichmentFeatures are the per-client enrichment entitlements.
type EnrichmentFeatures struct {
	Categorization    bool `json:"categorization"`
	Counterparties    bool `json:"counterparties"`
	TransactionCycles bool `json:"transaction_cycles"`
}

// Any reports whether at least one enrichment feature is enabled.
func (f EnrichmentFeatures) Any() bool {
	return f.Categorization || f.Counterparties || f.TransactionCycles
}

// ClientConfig is one client's configuration as served by the client-sites
// registry.
type ClientConfig struct {
	ClientID           string             `json:"client_id"`
	Enrichment         EnrichmentFeatures `json:"enrichment"`
	WebhookConfigured  bool               `json:"webhook_configured"`
	RedirectURLIDs     []string           `json:"redirect_url_ids,omitempty"`
	WebhookSecretName  string             `json:"webhook_secret_name,omitempty"`
}

// UserRecord carries the per-user data this service reads: push tokens for
// attention-required notifications.
type UserRecord struct {
	UserID    string    `firestore:"user_id"`
	ClientID  string    `firestore:"client_id,omitempty"`
	FcmTokens []string  `firestore:"fcm_tokens,omitempty"`
	CreatedAt time.Time `firestore:"created_at"`
}
