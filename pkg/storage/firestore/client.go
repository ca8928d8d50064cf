package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Raw exposes the underlying client for transactions.
func (c *Client) Raw() *firestore.Client {
	return c.fs
}

func (c *Client) Users() *Collection[types.UserRecord] {
	return &Collection[types.UserRecord]{Ref: c.fs.Collection(shared.CollectionUsers)}
}

// UserExecutions are sub-collections of Users: users/{uid}/executions/{id}
func (c *Client) UserExecutions(userId string) *Collection[types.ExecutionRecord] {
	return &Collection[types.ExecutionRecord]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userId).Collection(shared.CollectionExecutions),
	}
}

// OrphanedExecutions stores executions without a userId.
// These are code smells and should be investigated.
func (c *Client) OrphanedExecutions() *Collection[types.ExecutionRecord] {
	return &Collection[types.ExecutionRecord]{
		Ref: c.fs.Collection("orphaned_executions"),
	}
}

// Activities are sub-collections of Users: users/{uid}/activities/{activityId}
func (c *Client) Activities(userId string) *Collection[StoredActivity] {
	return &Collection[StoredActivity]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userId).Collection(shared.CollectionActivities),
	}
}

// ActivityEvents are sub-collections of Users: users/{uid}/activity_events/{eventId}
// Append-only; listing filters on activity_id and orders by event_time.
func (c *Client) ActivityEvents(userId string) *Collection[StoredActivityEvent] {
	return &Collection[StoredActivityEvent]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userId).Collection(shared.CollectionActivityEvents),
	}
}

// ConsentSessions are sub-collections of Users keyed by user-site id:
// users/{uid}/consent_sessions/{userSiteId}. At most one live session per
// user-site by construction.
func (c *Client) ConsentSessions(userId string) *Collection[StoredConsentSession] {
	return &Collection[StoredConsentSession]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userId).Collection(shared.CollectionConsentSessions),
	}
}

// SessionStates are sub-collections of Users keyed by state id:
// users/{uid}/session_states/{stateId}. Append-only audit trail with a TTL
// policy on expires_at.
func (c *Client) SessionStates(userId string) *Collection[StoredSessionState] {
	return &Collection[StoredSessionState]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userId).Collection(shared.CollectionSessionStates),
	}
}
