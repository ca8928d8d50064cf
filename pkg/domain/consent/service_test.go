package consent

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/testing/mocks"
	"github.com/sitebridge/server/pkg/types"
)

const retention = 30 * 24 * time.Hour

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore keeps sessions and audit rows in memory and implements the
// compare-and-rotate of SubmitConsentSession the way the real adapter
// does it transactionally.
type fakeStore struct {
	sessions map[uuid.UUID]*types.ConsentSessionRecord // by user-site id
	audits   map[uuid.UUID]*types.SessionStateRecord   // by state id
	now      time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[uuid.UUID]*types.ConsentSessionRecord{},
		audits:   map[uuid.UUID]*types.SessionStateRecord{},
		now:      time.Now(),
	}
}

func (f *fakeStore) mock() *mocks.MockDatabase {
	return &mocks.MockDatabase{
		GetConsentSessionFunc: func(ctx context.Context, userID string, userSiteID uuid.UUID) (*types.ConsentSessionRecord, error) {
			s, ok := f.sessions[userSiteID]
			if !ok {
				return nil, shared.ErrNotFound
			}
			copied := *s
			return &copied, nil
		},
		SetConsentSessionFunc: func(ctx context.Context, session *types.ConsentSessionRecord) error {
			copied := *session
			f.sessions[session.UserSiteID] = &copied
			return nil
		},
		DeleteConsentSessionFunc: func(ctx context.Context, userID string, userSiteID uuid.UUID) error {
			if _, ok := f.sessions[userSiteID]; !ok {
				return shared.ErrNotFound
			}
			delete(f.sessions, userSiteID)
			return nil
		},
		GetSessionStateFunc: func(ctx context.Context, userID string, stateID uuid.UUID) (*types.SessionStateRecord, error) {
			a, ok := f.audits[stateID]
			if !ok {
				return nil, shared.ErrNotFound
			}
			copied := *a
			return &copied, nil
		},
		SetSessionStateFunc: func(ctx context.Context, record *types.SessionStateRecord) error {
			copied := *record
			f.audits[record.StateID] = &copied
			return nil
		},
		SubmitConsentSessionFunc: func(ctx context.Context, userID string, stateID, newStateID uuid.UUID, ret time.Duration) (*types.ConsentSessionRecord, error) {
			for _, s := range f.sessions {
				if s.StateID != stateID {
					continue
				}
				before := *s
				if audit, ok := f.audits[stateID]; ok {
					audit.Submitted = true
					submitted := f.now
					audit.SubmittedTime = &submitted
				}
				f.audits[newStateID] = &types.SessionStateRecord{
					UserID:     userID,
					StateID:    newStateID,
					UserSiteID: s.UserSiteID,
					Created:    f.now,
					ExpiresAt:  f.now.Add(ret),
				}
				s.StateID = newStateID
				return &before, nil
			}
			return nil, shared.ErrNotFound
		},
	}
}

func createParams(userSiteID uuid.UUID) CreateParams {
	return CreateParams{
		UserID:        "user-1",
		UserSiteID:    userSiteID,
		SiteID:        uuid.New(),
		Provider:      "test-bank",
		Operation:     types.OperationCreateUserSite,
		RedirectURLID: "redirect-1",
		ActivityID:    uuid.New(),
		ClientID:      "client-1",
	}
}

func TestCreateIssuesFreshState(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	session, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, session.StateID)
	assert.Equal(t, 0, session.StepNumber)

	audit, ok := store.audits[session.StateID]
	require.True(t, ok, "audit row must be written for the issued state")
	assert.False(t, audit.Submitted)
	assert.Equal(t, session.UserSiteID, audit.UserSiteID)
}

func TestCreateCopiesCreatedForward(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)
	userSiteID := uuid.New()

	first, err := svc.Create(context.Background(), createParams(userSiteID))
	require.NoError(t, err)

	// A renewal must keep approximating true consent age.
	store.sessions[userSiteID].Created = first.Created.Add(-48 * time.Hour)
	original := store.sessions[userSiteID].Created

	second, err := svc.Create(context.Background(), createParams(userSiteID))
	require.NoError(t, err)
	assert.Equal(t, original, second.Created)
	assert.NotEqual(t, first.StateID, second.StateID)
}

func TestSubmitRotatesState(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	created, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	session, newState, err := svc.Submit(context.Background(), "user-1", created.StateID)
	require.NoError(t, err)

	assert.Equal(t, created.StateID, session.StateID, "caller gets the pre-rotation session")
	assert.NotEqual(t, created.StateID, newState)
	assert.Equal(t, newState, store.sessions[created.UserSiteID].StateID)
}

func TestSubmitRotationUniqueness(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	session, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	// Every state id issued across a multi-step handshake must be unique,
	// or a stale id from an earlier step would still be live.
	issued := map[uuid.UUID]bool{session.StateID: true}
	current := session.StateID
	for i := 0; i < 10; i++ {
		_, next, err := svc.Submit(context.Background(), "user-1", current)
		require.NoError(t, err)
		assert.False(t, issued[next], "state id reused after %d rotations", i+1)
		issued[next] = true
		current = next
	}
	assert.Len(t, issued, 11)
}

func TestSubmitReplayClassifiedAsAlreadySubmitted(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	created, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	_, _, err = svc.Submit(context.Background(), "user-1", created.StateID)
	require.NoError(t, err)

	_, _, err = svc.Submit(context.Background(), "user-1", created.StateID)
	var already *AlreadySubmittedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, created.StateID, already.StateID)
	assert.False(t, already.SubmittedAt.IsZero())
}

func TestSubmitUnknownState(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	_, _, err := svc.Submit(context.Background(), "user-1", uuid.New())
	var unknown *UnknownStateError
	assert.ErrorAs(t, err, &unknown)
}

func TestSubmitSuperseded(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)
	userSiteID := uuid.New()

	first, err := svc.Create(context.Background(), createParams(userSiteID))
	require.NoError(t, err)

	// A second create replaces the session; the first state id was issued
	// but now belongs to an abandoned flow.
	_, err = svc.Create(context.Background(), createParams(userSiteID))
	require.NoError(t, err)

	_, _, err = svc.Submit(context.Background(), "user-1", first.StateID)
	var superseded *SupersededError
	require.ErrorAs(t, err, &superseded)
	assert.Equal(t, userSiteID, superseded.UserSiteID)
	assert.False(t, superseded.NewerCreated.IsZero())
}

func TestSubmitExpiredByRetention(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	created, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	// The session row fell out of retention; only the audit row remains.
	delete(store.sessions, created.UserSiteID)

	_, _, err = svc.Submit(context.Background(), "user-1", created.StateID)
	var expired *ExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, created.StateID, expired.StateID)
}

func TestAdvanceStepKeepsState(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	session, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)
	stateBefore := session.StateID

	require.NoError(t, svc.AdvanceStep(context.Background(), session))
	assert.Equal(t, 1, session.StepNumber)
	assert.Equal(t, stateBefore, session.StateID)
	assert.Equal(t, 1, store.sessions[session.UserSiteID].StepNumber)
}

func TestUpdateStepValidation(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)

	session, err := svc.Create(context.Background(), createParams(uuid.New()))
	require.NoError(t, err)

	assert.Error(t, svc.UpdateStep(context.Background(), session, "ps", "", ""))
	assert.Error(t, svc.UpdateStep(context.Background(), session, "ps", "form", "redirect"))

	require.NoError(t, svc.UpdateStep(context.Background(), session, "ps", "form", ""))
	assert.Equal(t, "form", store.sessions[session.UserSiteID].FormStep)
	assert.Equal(t, "ps", store.sessions[session.UserSiteID].ProviderState)
}

func TestRemoveIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store.mock(), testLogger(), retention)
	userSiteID := uuid.New()

	_, err := svc.Create(context.Background(), createParams(userSiteID))
	require.NoError(t, err)

	require.NoError(t, svc.Remove(context.Background(), "user-1", userSiteID))
	require.NoError(t, svc.Remove(context.Background(), "user-1", userSiteID))
}
