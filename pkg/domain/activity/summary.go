package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	shared "github.com/sitebridge/server/pkg"
	sentryutil "github.com/sitebridge/server/pkg/infrastructure/sentry"
	"github.com/sitebridge/server/pkg/types"
)

// Projection maintains the queryable activity summary derived from the
// event log. End time is monotonic: the only permitted transition is
// nil -> non-nil, and concurrent writers cannot move it afterwards.
type Projection struct {
	db     shared.Database
	logger *slog.Logger
}

func NewProjection(db shared.Database, logger *slog.Logger) *Projection {
	return &Projection{db: db, logger: logger}
}

// RecordStart creates the summary row for a freshly started activity. The
// user-site set is whatever the start event carries; feedback activities
// legitimately start with an empty set.
func (p *Projection) RecordStart(ctx context.Context, e *types.ActivityEvent, start types.StartPayload) error {
	record := &types.ActivityRecord{
		ActivityID:  e.ActivityID,
		UserID:      e.UserID,
		ClientID:    e.ClientID,
		Origin:      start.Origin,
		StartTime:   e.EventTime,
		UserSiteIDs: start.UserSiteIDs,
	}
	if err := p.db.SetActivity(ctx, record); err != nil {
		return fmt.Errorf("recording start of activity %s: %w", e.ActivityID, err)
	}
	p.logger.Info("Activity started",
		"activity_id", e.ActivityID,
		"origin", start.Origin,
		"user_site_count", len(start.UserSiteIDs),
	)
	return nil
}

// MarkFailed closes the activity after a terminal disconnect. Only the
// disconnected outcome closes the activity here; a new-step-needed outcome
// settles the user-site but leaves final status to the aggregation path.
func (p *Projection) MarkFailed(ctx context.Context, userID string, activityID uuid.UUID, refreshed types.UserSiteRefreshedPayload, at time.Time) error {
	if refreshed.Outcome != types.OutcomeFailed {
		return nil
	}
	return p.close(ctx, userID, activityID, at, nil)
}

// MarkSucceeded closes the activity from an AggregationFinished or
// TransactionsEnrichmentFinished event. The affected user-site set is
// recomputed from the final event and overwrites the one recorded at
// start when they differ: enrichment can legitimately widen or narrow the
// set, and the drift is surfaced rather than rejected.
func (p *Projection) MarkSucceeded(ctx context.Context, userID string, activityID uuid.UUID, final types.EventPayload, at time.Time) error {
	var finalSites []uuid.UUID
	switch payload := final.(type) {
	case types.AggregationFinishedPayload:
		finalSites = payload.UserSiteIDs
	case types.EnrichmentFinishedPayload:
		finalSites = payload.UserSiteIDs()
	default:
		return fmt.Errorf("event kind %s cannot mark activity %s succeeded", final.Kind(), activityID)
	}
	return p.close(ctx, userID, activityID, at, finalSites)
}

func (p *Projection) close(ctx context.Context, userID string, activityID uuid.UUID, at time.Time, finalSites []uuid.UUID) error {
	record, err := p.db.GetActivity(ctx, userID, activityID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("closing activity %s: %w", activityID, ErrActivityNotFound)
		}
		return fmt.Errorf("loading activity %s: %w", activityID, err)
	}

	updates := map[string]interface{}{}

	if record.EndTime == nil {
		updates["end_time"] = at
	} else {
		// End time is set at most once and never moves.
		p.logger.Info("Activity already finished, end time untouched",
			"activity_id", activityID, "end_time", *record.EndTime)
	}

	if finalSites != nil && !sameUserSiteSet(record.UserSiteIDs, finalSites) {
		p.logger.Warn("Affected user-site set drifted between start and finish",
			"activity_id", activityID,
			"recorded_count", len(record.UserSiteIDs),
			"final_count", len(finalSites),
		)
		sentryutil.CaptureMessage("activity user-site set drift", sentry.LevelWarning, map[string]interface{}{
			"activity_id": activityID.String(),
		}, p.logger)
		stored := make([]string, len(finalSites))
		for i, id := range finalSites {
			stored[i] = id.String()
		}
		updates["user_site_ids"] = stored
	}

	if len(updates) == 0 {
		return nil
	}
	if err := p.db.UpdateActivity(ctx, userID, activityID, updates); err != nil {
		return fmt.Errorf("closing activity %s: %w", activityID, err)
	}
	return nil
}

// ListForUser returns the user's activity history, optionally filtered to
// still-running activities (no end time yet).
func (p *Projection) ListForUser(ctx context.Context, userID string, runningOnly bool) ([]types.ActivityRecord, error) {
	records, err := p.db.ListActivities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing activities for user: %w", err)
	}
	if !runningOnly {
		return records, nil
	}
	running := make([]types.ActivityRecord, 0, len(records))
	for _, r := range records {
		if r.Running() {
			running = append(running, r)
		}
	}
	return running, nil
}

func sameUserSiteSet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
