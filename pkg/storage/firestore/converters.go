package firestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/types"
)

// Persisted shapes keep ids as strings; domain types use uuid.UUID.

type StoredActivity struct {
	ActivityID  string     `firestore:"activity_id"`
	UserID      string     `firestore:"user_id"`
	ClientID    string     `firestore:"client_id,omitempty"`
	Origin      string     `firestore:"origin"`
	StartTime   time.Time  `firestore:"start_time"`
	EndTime     *time.Time `firestore:"end_time,omitempty"`
	UserSiteIDs []string   `firestore:"user_site_ids"`
}

func ActivityToStored(a *types.ActivityRecord) *StoredActivity {
	return &StoredActivity{
		ActivityID:  a.ActivityID.String(),
		UserID:      a.UserID,
		ClientID:    a.ClientID,
		Origin:      string(a.Origin),
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		UserSiteIDs: uuidsToStrings(a.UserSiteIDs),
	}
}

func StoredToActivity(s *StoredActivity) (*types.ActivityRecord, error) {
	activityID, err := uuid.Parse(s.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("stored activity id %q: %w", s.ActivityID, err)
	}
	userSiteIDs, err := stringsToUUIDs(s.UserSiteIDs)
	if err != nil {
		return nil, err
	}
	return &types.ActivityRecord{
		ActivityID:  activityID,
		UserID:      s.UserID,
		ClientID:    s.ClientID,
		Origin:      types.StartOrigin(s.Origin),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		UserSiteIDs: userSiteIDs,
	}, nil
}

type StoredConsentSession struct {
	UserID            string    `firestore:"user_id"`
	UserSiteID        string    `firestore:"user_site_id"`
	StateID           string    `firestore:"state_id"`
	SiteID            string    `firestore:"site_id"`
	Provider          string    `firestore:"provider"`
	Operation         string    `firestore:"operation"`
	RedirectURLID     string    `firestore:"redirect_url_id"`
	ProviderState     string    `firestore:"provider_state,omitempty"`
	ExternalConsentID string    `firestore:"external_consent_id,omitempty"`
	FormStep          string    `firestore:"form_step,omitempty"`
	RedirectURLStep   string    `firestore:"redirect_url_step,omitempty"`
	StepNumber        int       `firestore:"step_number"`
	ActivityID        string    `firestore:"activity_id"`
	ClientID          string    `firestore:"client_id"`
	Created           time.Time `firestore:"created"`

	OriginalConnectionStatus string `firestore:"original_connection_status,omitempty"`
	OriginalFailureReason    string `firestore:"original_failure_reason,omitempty"`
}

func ConsentSessionToStored(c *types.ConsentSessionRecord) *StoredConsentSession {
	return &StoredConsentSession{
		UserID:            c.UserID,
		UserSiteID:        c.UserSiteID.String(),
		StateID:           c.StateID.String(),
		SiteID:            c.SiteID.String(),
		Provider:          c.Provider,
		Operation:         string(c.Operation),
		RedirectURLID:     c.RedirectURLID,
		ProviderState:     c.ProviderState,
		ExternalConsentID: c.ExternalConsentID,
		FormStep:          c.FormStep,
		RedirectURLStep:   c.RedirectURLStep,
		StepNumber:        c.StepNumber,
		ActivityID:        c.ActivityID.String(),
		ClientID:          c.ClientID,
		Created:           c.Created,

		OriginalConnectionStatus: string(c.OriginalConnectionStatus),
		OriginalFailureReason:    c.OriginalFailureReason,
	}
}

func StoredToConsentSession(s *StoredConsentSession) (*types.ConsentSessionRecord, error) {
	userSiteID, err := uuid.Parse(s.UserSiteID)
	if err != nil {
		return nil, fmt.Errorf("stored user site id %q: %w", s.UserSiteID, err)
	}
	stateID, err := uuid.Parse(s.StateID)
	if err != nil {
		return nil, fmt.Errorf("stored state id %q: %w", s.StateID, err)
	}
	siteID, err := uuid.Parse(s.SiteID)
	if err != nil {
		return nil, fmt.Errorf("stored site id %q: %w", s.SiteID, err)
	}
	activityID, err := uuid.Parse(s.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("stored activity id %q: %w", s.ActivityID, err)
	}
	return &types.ConsentSessionRecord{
		UserID:            s.UserID,
		UserSiteID:        userSiteID,
		StateID:           stateID,
		SiteID:            siteID,
		Provider:          s.Provider,
		Operation:         types.ConsentOperation(s.Operation),
		RedirectURLID:     s.RedirectURLID,
		ProviderState:     s.ProviderState,
		ExternalConsentID: s.ExternalConsentID,
		FormStep:          s.FormStep,
		RedirectURLStep:   s.RedirectURLStep,
		StepNumber:        s.StepNumber,
		ActivityID:        activityID,
		ClientID:          s.ClientID,
		Created:           s.Created,

		OriginalConnectionStatus: types.ConnectionStatus(s.OriginalConnectionStatus),
		OriginalFailureReason:    s.OriginalFailureReason,
	}, nil
}

type StoredSessionState struct {
	UserID        string     `firestore:"user_id"`
	StateID       string     `firestore:"state_id"`
	UserSiteID    string     `firestore:"user_site_id"`
	Created       time.Time  `firestore:"created"`
	Submitted     bool       `firestore:"submitted"`
	SubmittedTime *time.Time `firestore:"submitted_time,omitempty"`
	ExpiresAt     time.Time  `firestore:"expires_at"`
}

func SessionStateToStored(r *types.SessionStateRecord) *StoredSessionState {
	return &StoredSessionState{
		UserID:        r.UserID,
		StateID:       r.StateID.String(),
		UserSiteID:    r.UserSiteID.String(),
		Created:       r.Created,
		Submitted:     r.Submitted,
		SubmittedTime: r.SubmittedTime,
		ExpiresAt:     r.ExpiresAt,
	}
}

func StoredToSessionState(s *StoredSessionState) (*types.SessionStateRecord, error) {
	stateID, err := uuid.Parse(s.StateID)
	if err != nil {
		return nil, fmt.Errorf("stored state id %q: %w", s.StateID, err)
	}
	userSiteID, err := uuid.Parse(s.UserSiteID)
	if err != nil {
		return nil, fmt.Errorf("stored user site id %q: %w", s.UserSiteID, err)
	}
	return &types.SessionStateRecord{
		UserID:        s.UserID,
		StateID:       stateID,
		UserSiteID:    userSiteID,
		Created:       s.Created,
		Submitted:     s.Submitted,
		SubmittedTime: s.SubmittedTime,
		ExpiresAt:     s.ExpiresAt,
	}, nil
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringsToUUIDs(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("stored id %q: %w", id, err)
		}
		out[i] = parsed
	}
	return out, nil
}
