package firestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/types"
)

// StoredActivityEvent is the persisted shape of an activity event. The
// payload is kept as kind-tagged JSON so the log never loses fields when
// the union grows.
type StoredActivityEvent struct {
	EventID     string    `firestore:"event_id"`
	ActivityID  string    `firestore:"activity_id"`
	UserID      string    `firestore:"user_id"`
	ClientID    string    `firestore:"client_id,omitempty"`
	EventTime   time.Time `firestore:"event_time"`
	Kind        string    `firestore:"kind"`
	PayloadJSON string    `firestore:"payload_json"`
}

func EventToStored(e *types.ActivityEvent) (*StoredActivityEvent, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.EventID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &StoredActivityEvent{
		EventID:     e.EventID.String(),
		ActivityID:  e.ActivityID.String(),
		UserID:      e.UserID,
		ClientID:    e.ClientID,
		EventTime:   e.EventTime,
		Kind:        string(e.Payload.Kind()),
		PayloadJSON: string(raw),
	}, nil
}

func StoredToEvent(s *StoredActivityEvent) (*types.ActivityEvent, error) {
	eventID, err := uuid.Parse(s.EventID)
	if err != nil {
		return nil, fmt.Errorf("stored event id %q: %w", s.EventID, err)
	}
	activityID, err := uuid.Parse(s.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("stored activity id %q: %w", s.ActivityID, err)
	}
	payload, err := types.DecodePayload(types.EventKind(s.Kind), []byte(s.PayloadJSON))
	if err != nil {
		return nil, err
	}
	return &types.ActivityEvent{
		EventID:    eventID,
		ActivityID: activityID,
		UserID:     s.UserID,
		ClientID:   s.ClientID,
		EventTime:  s.EventTime,
		Payload:    payload,
	}, nil
}
