package activity

import (
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/types"
)

// IsComplete decides whether an activity has received a terminal event for
// every user-site it started with.
//
// expected is the union of user-site ids over all Start events in the log
// (there should be exactly one Start, but duplicates are tolerated by
// unioning). settled is the union of user-site ids with an
// IngestionFinished event or a terminal UserSiteRefreshed outcome. The
// activity is complete iff settled covers expected.
//
// The computation is idempotent and commutative: any permutation or
// duplication of the same event set yields the same answer, and a complete
// activity never flips back to incomplete when more events arrive.
func IsComplete(events []types.ActivityEvent) (bool, error) {
	expected := make(map[uuid.UUID]struct{})
	settled := make(map[uuid.UUID]struct{})
	settling := false

	for _, e := range events {
		switch p := e.Payload.(type) {
		case types.StartPayload:
			for _, id := range p.UserSiteIDs {
				expected[id] = struct{}{}
			}
		case types.UserSiteRefreshedPayload:
			if p.Outcome.Terminal() {
				settled[p.UserSiteID] = struct{}{}
				settling = true
			}
		case types.IngestionFinishedPayload:
			settled[p.UserSiteID] = struct{}{}
			settling = true
		case types.AggregationFinishedPayload, types.EnrichmentFinishedPayload:
			// Downstream signals; no effect on data-fetch completion.
		}
	}

	if len(expected) == 0 {
		if settling {
			// A terminal event arrived before any Start event. Possibly a
			// cross-partition race; flagged for monitoring either way.
			return false, ErrNoStartEvent
		}
		return false, nil
	}

	for id := range expected {
		if _, ok := settled[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// ExpectedUserSites returns the union of user-site ids over all Start
// events in the log, in no particular order.
func ExpectedUserSites(events []types.ActivityEvent) []uuid.UUID {
	set := make(map[uuid.UUID]struct{})
	for _, e := range events {
		if p, ok := e.Payload.(types.StartPayload); ok {
			for _, id := range p.UserSiteIDs {
				set[id] = struct{}{}
			}
		}
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
