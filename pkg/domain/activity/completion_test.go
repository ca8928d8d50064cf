package activity

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebridge/server/pkg/types"
)

var (
	siteA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	siteB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	siteC = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

func evt(payload types.EventPayload) types.ActivityEvent {
	return types.ActivityEvent{
		EventID:    uuid.New(),
		ActivityID: uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
		UserID:     "user-1",
		EventTime:  time.Now().Truncate(time.Millisecond),
		Payload:    payload,
	}
}

func start(sites ...uuid.UUID) types.ActivityEvent {
	return evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: sites})
}

func ingested(site uuid.UUID) types.ActivityEvent {
	return evt(types.IngestionFinishedPayload{UserSiteID: site})
}

func refreshed(site uuid.UUID, outcome types.RefreshOutcome) types.ActivityEvent {
	return evt(types.UserSiteRefreshedPayload{UserSiteID: site, Outcome: outcome})
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name     string
		events   []types.ActivityEvent
		complete bool
	}{
		{
			name:     "only start is incomplete",
			events:   []types.ActivityEvent{start(siteA, siteB)},
			complete: false,
		},
		{
			name: "all sites ingested",
			events: []types.ActivityEvent{
				start(siteA, siteB),
				ingested(siteA),
				ingested(siteB),
			},
			complete: true,
		},
		{
			name: "one site still pending",
			events: []types.ActivityEvent{
				start(siteA, siteB),
				ingested(siteA),
			},
			complete: false,
		},
		{
			name: "mixed ingestion and terminal failure",
			events: []types.ActivityEvent{
				start(siteA, siteB),
				ingested(siteA),
				refreshed(siteB, types.OutcomeFailed),
			},
			complete: true,
		},
		{
			name: "new step needed settles a site",
			events: []types.ActivityEvent{
				start(siteA),
				refreshed(siteA, types.OutcomeNewStepNeeded),
			},
			complete: true,
		},
		{
			name: "non-terminal refresh does not settle",
			events: []types.ActivityEvent{
				start(siteA),
				refreshed(siteA, types.OutcomeOK),
			},
			complete: false,
		},
		{
			name: "suspicious outcome does not settle",
			events: []types.ActivityEvent{
				start(siteA),
				refreshed(siteA, types.OutcomeOKSuspicious),
			},
			complete: false,
		},
		{
			name: "every site failed",
			events: []types.ActivityEvent{
				start(siteA, siteB),
				refreshed(siteA, types.OutcomeFailed),
				refreshed(siteB, types.OutcomeFailed),
			},
			complete: true,
		},
		{
			name: "settled site outside the expected set is ignored",
			events: []types.ActivityEvent{
				start(siteA),
				ingested(siteA),
				ingested(siteC),
			},
			complete: true,
		},
		{
			name:     "feedback start with empty site set stays open",
			events:   []types.ActivityEvent{evt(types.StartPayload{Origin: types.OriginCategorizationFeedback})},
			complete: false,
		},
		{
			name: "duplicate starts are unioned",
			events: []types.ActivityEvent{
				start(siteA),
				start(siteA, siteB),
				ingested(siteA),
				ingested(siteB),
			},
			complete: true,
		},
		{
			name: "downstream events have no effect on completion",
			events: []types.ActivityEvent{
				start(siteA, siteB),
				ingested(siteA),
				evt(types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}}),
				evt(types.EnrichmentFinishedPayload{Status: types.EnrichmentSuccess}),
			},
			complete: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsComplete(tt.events)
			require.NoError(t, err)
			assert.Equal(t, tt.complete, got)
		})
	}
}

func TestIsCompleteTerminalEventWithoutStart(t *testing.T) {
	_, err := IsComplete([]types.ActivityEvent{ingested(siteA)})
	assert.ErrorIs(t, err, ErrNoStartEvent)

	_, err = IsComplete([]types.ActivityEvent{refreshed(siteA, types.OutcomeFailed)})
	assert.ErrorIs(t, err, ErrNoStartEvent)

	// A non-terminal refresh before the start event is not an error: it
	// settles nothing and redelivery of the start will resolve it.
	_, err = IsComplete([]types.ActivityEvent{refreshed(siteA, types.OutcomeOK)})
	assert.NoError(t, err)
}

// The verdict must be invariant under permutation and duplication of the
// same event set: the transport only guarantees per-user ordering, and any
// event may be redelivered.
func TestIsCompleteOrderAndDuplicateInvariance(t *testing.T) {
	base := []types.ActivityEvent{
		start(siteA, siteB, siteC),
		ingested(siteA),
		refreshed(siteB, types.OutcomeFailed),
		refreshed(siteC, types.OutcomeNewStepNeeded),
	}

	want, err := IsComplete(base)
	require.NoError(t, err)
	require.True(t, want)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := append([]types.ActivityEvent{}, base...)
		// Duplicate a random event before shuffling.
		shuffled = append(shuffled, shuffled[rng.Intn(len(shuffled))])
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got, err := IsComplete(shuffled)
		require.NoError(t, err)
		assert.True(t, got, "permutation %d flipped the verdict", i)
	}
}

// Once complete, appending more events never reopens the activity.
func TestIsCompleteMonotonic(t *testing.T) {
	events := []types.ActivityEvent{
		start(siteA),
		ingested(siteA),
	}
	complete, err := IsComplete(events)
	require.NoError(t, err)
	require.True(t, complete)

	extra := []types.ActivityEvent{
		refreshed(siteA, types.OutcomeOK),
		ingested(siteA),
		evt(types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}}),
	}
	for _, e := range extra {
		events = append(events, e)
		complete, err = IsComplete(events)
		require.NoError(t, err)
		assert.True(t, complete)
	}
}

func TestExpectedUserSites(t *testing.T) {
	events := []types.ActivityEvent{
		start(siteA, siteB),
		start(siteB, siteC),
		ingested(siteA),
	}
	got := ExpectedUserSites(events)
	assert.ElementsMatch(t, []uuid.UUID{siteA, siteB, siteC}, got)
}
