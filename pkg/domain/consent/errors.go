package consent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Submit failures are classified precisely because the caller reacts
// differently to each: retry, restart the flow, or show a stale-link
// message. They are never collapsed into a generic "invalid" error.

// UnknownStateError means the submitted state id was never issued.
type UnknownStateError struct {
	StateID uuid.UUID
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("state %s was never issued", e.StateID)
}

// AlreadySubmittedError means the state id was issued and consumed before.
type AlreadySubmittedError struct {
	StateID     uuid.UUID
	SubmittedAt time.Time
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("state %s was already submitted at %s", e.StateID, e.SubmittedAt.Format(time.RFC3339))
}

// SupersededError means a newer session now guards the same user-site, so
// the submitted state belongs to an abandoned flow.
type SupersededError struct {
	StateID      uuid.UUID
	UserSiteID   uuid.UUID
	NewerCreated time.Time
}

func (e *SupersededError) Error() string {
	return fmt.Sprintf("state %s superseded by a session created at %s", e.StateID, e.NewerCreated.Format(time.RFC3339))
}

// ExpiredError means the state id was issued but its session fell out of
// retention before being submitted.
type ExpiredError struct {
	StateID  uuid.UUID
	IssuedAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("state %s issued at %s has expired", e.StateID, e.IssuedAt.Format(time.RFC3339))
}
