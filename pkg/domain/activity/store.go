package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/types"
)

// Store is the append-only activity event log. The log, not arrival order,
// is the ground truth: consumers must tolerate out-of-order and duplicate
// delivery of individual events.
type Store struct {
	db     shared.Database
	logger *slog.Logger
}

func NewStore(db shared.Database, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Append durably stores one event, assigning a fresh event id. The caller
// must not acknowledge upstream work until Append succeeds.
func (s *Store) Append(ctx context.Context, e *types.ActivityEvent) (*types.ActivityEvent, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("refusing to append event without payload for activity %s", e.ActivityID)
	}
	if e.UserID == "" {
		return nil, fmt.Errorf("refusing to append event without user id for activity %s", e.ActivityID)
	}

	stored := *e
	stored.EventID = uuid.New()
	if stored.EventTime.IsZero() {
		stored.EventTime = time.Now()
	}
	stored.EventTime = stored.EventTime.Truncate(time.Millisecond)

	if err := s.db.AppendActivityEvent(ctx, &stored); err != nil {
		return nil, fmt.Errorf("appending %s event for activity %s: %w", stored.Payload.Kind(), stored.ActivityID, err)
	}

	s.logger.Debug("Appended activity event",
		"activity_id", stored.ActivityID,
		"event_id", stored.EventID,
		"kind", stored.Payload.Kind(),
	)
	return &stored, nil
}

// ListByActivity returns all events for an activity in event-time order.
func (s *Store) ListByActivity(ctx context.Context, userID string, activityID uuid.UUID) ([]types.ActivityEvent, error) {
	events, err := s.db.ListActivityEvents(ctx, userID, activityID)
	if err != nil {
		return nil, fmt.Errorf("listing events for activity %s: %w", activityID, err)
	}
	return events, nil
}
