package activity

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordStart(t *testing.T) {
	var saved *types.ActivityRecord
	db := &mocks.MockDatabase{
		SetActivityFunc: func(ctx context.Context, record *types.ActivityRecord) error {
			saved = record
			return nil
		},
	}
	p := NewProjection(db, testLogger())

	e := evt(types.StartPayload{Origin: types.OriginCreateUserSite, UserSiteIDs: []uuid.UUID{siteA}})
	err := p.RecordStart(context.Background(), &e, e.Payload.(types.StartPayload))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, e.ActivityID, saved.ActivityID)
	assert.Equal(t, types.OriginCreateUserSite, saved.Origin)
	assert.Nil(t, saved.EndTime)
	assert.True(t, saved.Running())
}

func TestMarkFailedOnlyOnFailedOutcome(t *testing.T) {
	db := &mocks.MockDatabase{
		GetActivityFunc: func(ctx context.Context, userID string, activityID uuid.UUID) (*types.ActivityRecord, error) {
			t.Fatal("GetActivity should not be called for a non-failed outcome")
			return nil, nil
		},
	}
	p := NewProjection(db, testLogger())

	err := p.MarkFailed(context.Background(), "user-1", uuid.New(),
		types.UserSiteRefreshedPayload{Outcome: types.OutcomeNewStepNeeded}, time.Now())
	assert.NoError(t, err)
}

func TestMarkFailedSetsEndTimeOnce(t *testing.T) {
	activityID := uuid.New()
	at := time.Now().Truncate(time.Millisecond)
	record := &types.ActivityRecord{ActivityID: activityID, UserID: "user-1"}

	var updates map[string]interface{}
	db := &mocks.MockDatabase{
		GetActivityFunc: func(ctx context.Context, userID string, id uuid.UUID) (*types.ActivityRecord, error) {
			return record, nil
		},
		UpdateActivityFunc: func(ctx context.Context, userID string, id uuid.UUID, data map[string]interface{}) error {
			updates = data
			return nil
		},
	}
	p := NewProjection(db, testLogger())

	payload := types.UserSiteRefreshedPayload{Outcome: types.OutcomeFailed}
	require.NoError(t, p.MarkFailed(context.Background(), "user-1", activityID, payload, at))
	assert.Equal(t, at, updates["end_time"])

	// A second terminal event must not move the end time.
	record.EndTime = &at
	updates = nil
	require.NoError(t, p.MarkFailed(context.Background(), "user-1", activityID, payload, at.Add(time.Hour)))
	assert.Nil(t, updates, "no update expected once end time is set")
}

func TestMarkSucceededOverwritesDriftedSiteSet(t *testing.T) {
	activityID := uuid.New()
	record := &types.ActivityRecord{
		ActivityID:  activityID,
		UserID:      "user-1",
		UserSiteIDs: []uuid.UUID{siteA, siteB},
	}

	var updates map[string]interface{}
	db := &mocks.MockDatabase{
		GetActivityFunc: func(ctx context.Context, userID string, id uuid.UUID) (*types.ActivityRecord, error) {
			return record, nil
		},
		UpdateActivityFunc: func(ctx context.Context, userID string, id uuid.UUID, data map[string]interface{}) error {
			updates = data
			return nil
		},
	}
	p := NewProjection(db, testLogger())

	final := types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}}
	require.NoError(t, p.MarkSucceeded(context.Background(), "user-1", activityID, final, time.Now()))

	require.Contains(t, updates, "user_site_ids")
	assert.Equal(t, []string{siteA.String()}, updates["user_site_ids"])
}

func TestMarkSucceededSameSetNoOverwrite(t *testing.T) {
	activityID := uuid.New()
	record := &types.ActivityRecord{
		ActivityID:  activityID,
		UserID:      "user-1",
		UserSiteIDs: []uuid.UUID{siteA, siteB},
	}

	var updates map[string]interface{}
	db := &mocks.MockDatabase{
		GetActivityFunc: func(ctx context.Context, userID string, id uuid.UUID) (*types.ActivityRecord, error) {
			return record, nil
		},
		UpdateActivityFunc: func(ctx context.Context, userID string, id uuid.UUID, data map[string]interface{}) error {
			updates = data
			return nil
		},
	}
	p := NewProjection(db, testLogger())

	// Same sites, different order: not drift.
	final := types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteB, siteA}}
	require.NoError(t, p.MarkSucceeded(context.Background(), "user-1", activityID, final, time.Now()))
	assert.NotContains(t, updates, "user_site_ids")
	assert.Contains(t, updates, "end_time")
}

func TestMarkSucceededRejectsWrongKind(t *testing.T) {
	p := NewProjection(&mocks.MockDatabase{}, testLogger())
	err := p.MarkSucceeded(context.Background(), "user-1", uuid.New(),
		types.StartPayload{Origin: types.OriginRefreshUserSites}, time.Now())
	assert.Error(t, err)
}

func TestCloseMissingActivity(t *testing.T) {
	db := &mocks.MockDatabase{
		GetActivityFunc: func(ctx context.Context, userID string, id uuid.UUID) (*types.ActivityRecord, error) {
			return nil, shared.ErrNotFound
		},
	}
	p := NewProjection(db, testLogger())

	err := p.MarkFailed(context.Background(), "user-1", uuid.New(),
		types.UserSiteRefreshedPayload{Outcome: types.OutcomeFailed}, time.Now())
	assert.ErrorIs(t, err, ErrActivityNotFound)
}

func TestListForUserRunningFilter(t *testing.T) {
	done := time.Now()
	db := &mocks.MockDatabase{
		ListActivitiesFunc: func(ctx context.Context, userID string) ([]types.ActivityRecord, error) {
			return []types.ActivityRecord{
				{ActivityID: uuid.New(), EndTime: &done},
				{ActivityID: uuid.New()},
				{ActivityID: uuid.New(), EndTime: &done},
			}, nil
		},
	}
	p := NewProjection(db, testLogger())

	all, err := p.ListForUser(context.Background(), "user-1", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := p.ListForUser(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.True(t, running[0].Running())
}
