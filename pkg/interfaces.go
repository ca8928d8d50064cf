package shared

import (
	"context"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/types"
)

// --- Persistence Interfaces ---

type Database interface {
	// Executions audit
	SetExecution(ctx context.Context, record *types.ExecutionRecord) error
	UpdateExecution(ctx context.Context, userID, id string, data map[string]interface{}) error

	// Users
	GetUser(ctx context.Context, id string) (*types.UserRecord, error)

	// Activity event log (append-only)
	AppendActivityEvent(ctx context.Context, e *types.ActivityEvent) error
	ListActivityEvents(ctx context.Context, userID string, activityID uuid.UUID) ([]types.ActivityEvent, error)

	// Activity summary projection
	SetActivity(ctx context.Context, record *types.ActivityRecord) error
	GetActivity(ctx context.Context, userID string, activityID uuid.UUID) (*types.ActivityRecord, error)
	UpdateActivity(ctx context.Context, userID string, activityID uuid.UUID, data map[string]interface{}) error
	ListActivities(ctx context.Context, userID string) ([]types.ActivityRecord, error)

	// Consent sessions
	GetConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) (*types.ConsentSessionRecord, error)
	SetConsentSession(ctx context.Context, session *types.ConsentSessionRecord) error
	DeleteConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) error

	// Session state audit trail
	GetSessionState(ctx context.Context, userID string, stateID uuid.UUID) (*types.SessionStateRecord, error)
	SetSessionState(ctx context.Context, record *types.SessionStateRecord) error

	// SubmitConsentSession atomically looks up the session holding stateID,
	// rotates its nonce to newStateID, appends the new audit row and marks
	// the old one submitted. Returns the pre-rotation session, or
	// ErrNotFound when no live session holds stateID.
	SubmitConsentSession(ctx context.Context, userID string, stateID, newStateID uuid.UUID, retention time.Duration) (*types.ConsentSessionRecord, error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	// PublishCloudEvent publishes e to topic with the given ordering key.
	// Per-user ordering is the transport contract; orderingKey is the user id.
	PublishCloudEvent(ctx context.Context, topic, orderingKey string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Notification Interfaces ---

type NotificationService interface {
	SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error
}

// --- Secret Interfaces ---

type SecretStore interface {
	GetSecret(ctx context.Context, projectID, name string) (string, error)
}
