package shared

import "errors"

// ErrNotFound is returned by Database lookups when no row exists. Callers
// distinguish expected absences (no-op) from not-yet-consistent states
// (fatal) at the domain layer.
var ErrNotFound = errors.New("not found")
