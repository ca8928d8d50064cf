package activity

import "errors"

// ErrNoStartEvent means a terminal per-user-site event arrived for an
// activity whose log holds no Start event. Redelivery will not fix a
// genuine ordering bug; callers log at error severity and do not retry.
var ErrNoStartEvent = errors.New("terminal event without a start event")

// ErrActivityNotFound means a completion or failure handler referenced an
// activity that has no summary row. An activity must always originate from
// a Start event, so this is never silently repaired.
var ErrActivityNotFound = errors.New("activity not found")
