package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/sitebridge/server/pkg"
	storage "github.com/sitebridge/server/pkg/storage/firestore"
	"github.com/sitebridge/server/pkg/types"
)

// FirestoreAdapter provides database operations using Firestore.
// It wraps our typed storage client.
type FirestoreAdapter struct {
	Client  *firestore.Client
	storage *storage.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{
		Client:  client,
		storage: storage.NewClient(client),
	}
}

// translateNotFound maps the Firestore NotFound status onto the shared
// sentinel so domain code never imports grpc.
func translateNotFound(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return shared.ErrNotFound
	}
	return err
}

// --- Executions ---

func (a *FirestoreAdapter) SetExecution(ctx context.Context, record *types.ExecutionRecord) error {
	if record.UserID == "" {
		return a.storage.OrphanedExecutions().Doc(record.ExecutionID).Set(ctx, record)
	}
	return a.storage.UserExecutions(record.UserID).Doc(record.ExecutionID).Set(ctx, record)
}

func (a *FirestoreAdapter) UpdateExecution(ctx context.Context, userID, id string, data map[string]interface{}) error {
	if userID == "" {
		return a.storage.OrphanedExecutions().Doc(id).Update(ctx, data)
	}
	return a.storage.UserExecutions(userID).Doc(id).Update(ctx, data)
}

// --- Users ---

func (a *FirestoreAdapter) GetUser(ctx context.Context, id string) (*types.UserRecord, error) {
	user, err := a.storage.Users().Doc(id).Get(ctx)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return user, nil
}

// --- Activity event log ---

func (a *FirestoreAdapter) AppendActivityEvent(ctx context.Context, e *types.ActivityEvent) error {
	stored, err := storage.EventToStored(e)
	if err != nil {
		return err
	}
	return a.storage.ActivityEvents(e.UserID).Doc(stored.EventID).Set(ctx, stored)
}

func (a *FirestoreAdapter) ListActivityEvents(ctx context.Context, userID string, activityID uuid.UUID) ([]types.ActivityEvent, error) {
	col := a.storage.ActivityEvents(userID)
	q := col.Query().
		Where("activity_id", "==", activityID.String()).
		OrderBy("event_time", firestore.Asc)
	storedEvents, err := col.GetAll(ctx, q)
	if err != nil {
		return nil, err
	}
	events := make([]types.ActivityEvent, 0, len(storedEvents))
	for i := range storedEvents {
		e, err := storage.StoredToEvent(&storedEvents[i])
		if err != nil {
			return nil, fmt.Errorf("decoding event log for activity %s: %w", activityID, err)
		}
		events = append(events, *e)
	}
	return events, nil
}

// --- Activity summary projection ---

func (a *FirestoreAdapter) SetActivity(ctx context.Context, record *types.ActivityRecord) error {
	stored := storage.ActivityToStored(record)
	return a.storage.Activities(record.UserID).Doc(stored.ActivityID).Set(ctx, stored)
}

func (a *FirestoreAdapter) GetActivity(ctx context.Context, userID string, activityID uuid.UUID) (*types.ActivityRecord, error) {
	stored, err := a.storage.Activities(userID).Doc(activityID.String()).Get(ctx)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return storage.StoredToActivity(stored)
}

func (a *FirestoreAdapter) UpdateActivity(ctx context.Context, userID string, activityID uuid.UUID, data map[string]interface{}) error {
	return a.storage.Activities(userID).Doc(activityID.String()).Update(ctx, data)
}

func (a *FirestoreAdapter) ListActivities(ctx context.Context, userID string) ([]types.ActivityRecord, error) {
	col := a.storage.Activities(userID)
	q := col.Query().OrderBy("start_time", firestore.Desc)
	storedActivities, err := col.GetAll(ctx, q)
	if err != nil {
		return nil, err
	}
	records := make([]types.ActivityRecord, 0, len(storedActivities))
	for i := range storedActivities {
		rec, err := storage.StoredToActivity(&storedActivities[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// --- Consent sessions ---

func (a *FirestoreAdapter) GetConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) (*types.ConsentSessionRecord, error) {
	stored, err := a.storage.ConsentSessions(userID).Doc(userSiteID.String()).Get(ctx)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return storage.StoredToConsentSession(stored)
}

func (a *FirestoreAdapter) SetConsentSession(ctx context.Context, session *types.ConsentSessionRecord) error {
	stored := storage.ConsentSessionToStored(session)
	return a.storage.ConsentSessions(session.UserID).Doc(stored.UserSiteID).Set(ctx, stored)
}

func (a *FirestoreAdapter) DeleteConsentSession(ctx context.Context, userID string, userSiteID uuid.UUID) error {
	return a.storage.ConsentSessions(userID).Doc(userSiteID.String()).Delete(ctx)
}

// --- Session state audit trail ---

func (a *FirestoreAdapter) GetSessionState(ctx context.Context, userID string, stateID uuid.UUID) (*types.SessionStateRecord, error) {
	stored, err := a.storage.SessionStates(userID).Doc(stateID.String()).Get(ctx)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return storage.StoredToSessionState(stored)
}

func (a *FirestoreAdapter) SetSessionState(ctx context.Context, record *types.SessionStateRecord) error {
	stored := storage.SessionStateToStored(record)
	return a.storage.SessionStates(record.UserID).Doc(stored.StateID).Set(ctx, stored)
}

// SubmitConsentSession performs the compare-and-rotate inside a single
// Firestore transaction: this is the only mutual exclusion the consent
// state machine needs (one transactional read-modify-write per
// (user, user-site) row).
func (a *FirestoreAdapter) SubmitConsentSession(ctx context.Context, userID string, stateID, newStateID uuid.UUID, retention time.Duration) (*types.ConsentSessionRecord, error) {
	var submitted *types.ConsentSessionRecord
	err := a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		submitted = nil
		sessions := a.storage.ConsentSessions(userID)
		q := sessions.Query().Where("state_id", "==", stateID.String()).Limit(1)
		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return shared.ErrNotFound
		}

		var stored storage.StoredConsentSession
		if err := snaps[0].DataTo(&stored); err != nil {
			return err
		}
		session, err := storage.StoredToConsentSession(&stored)
		if err != nil {
			return err
		}

		now := time.Now()

		// Old nonce becomes permanently invalid: audit row flips to submitted.
		oldAudit := a.storage.SessionStates(userID).Doc(stateID.String())
		if err := tx.Set(oldAudit.Ref, map[string]interface{}{
			"submitted":      true,
			"submitted_time": now,
		}, firestore.MergeAll); err != nil {
			return err
		}

		// Fresh audit row for the rotated nonce.
		newAudit := storage.SessionStateToStored(&types.SessionStateRecord{
			UserID:     userID,
			StateID:    newStateID,
			UserSiteID: session.UserSiteID,
			Created:    now,
			ExpiresAt:  now.Add(retention),
		})
		if err := tx.Set(a.storage.SessionStates(userID).Doc(newStateID.String()).Ref, newAudit); err != nil {
			return err
		}

		rotated := *session
		rotated.StateID = newStateID
		if err := tx.Set(snaps[0].Ref, storage.ConsentSessionToStored(&rotated)); err != nil {
			return err
		}

		submitted = session
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return submitted, nil
}
