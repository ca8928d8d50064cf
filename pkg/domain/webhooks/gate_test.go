package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	oapi "github.com/oapi-codegen/runtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitebridge/server/pkg/testing/mocks"
	"github.com/sitebridge/server/pkg/types"
)

var (
	siteA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	siteB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	acct1 = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	acct2 = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
)

func date(y int, m time.Month, d int) *oapi.Date {
	return &oapi.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	gate    *Gate
	pub     *mocks.MockPublisher
	blobs   *mocks.MockBlobStore
	secrets *mocks.MockSecretStore
	clients *mocks.MockClientConfigs
}

func newFixture(topic string) *fixture {
	f := &fixture{
		pub:     &mocks.MockPublisher{},
		blobs:   &mocks.MockBlobStore{},
		secrets: &mocks.MockSecretStore{Secrets: map[string]string{}},
		clients: &mocks.MockClientConfigs{
			Loaded: true,
			Configs: map[string]types.ClientConfig{
				"client-1": {ClientID: "client-1", WebhookConfigured: true},
			},
		},
	}
	f.gate = NewGate(f.pub, f.blobs, f.secrets, f.clients, topic, "artifact-bucket", "test-project", testLogger())
	return f
}

func (f *fixture) lastPayload(t *testing.T) types.AISWebhookPayload {
	t.Helper()
	require.NotEmpty(t, f.pub.Published)
	var envelope types.WebhookEnvelope
	require.NoError(t, json.Unmarshal(f.pub.Published[len(f.pub.Published)-1].Event.Data(), &envelope))
	return envelope.Payload
}

func evt(payload types.EventPayload) types.ActivityEvent {
	return types.ActivityEvent{
		EventID:    uuid.New(),
		ActivityID: uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
		UserID:     "user-1",
		ClientID:   "client-1",
		EventTime:  time.Now().Truncate(time.Millisecond),
		Payload:    payload,
	}
}

func TestMergeAccounts(t *testing.T) {
	tests := []struct {
		name string
		a, b []types.AffectedAccount
		want []types.AffectedAccount
	}{
		{
			name: "earlier date wins",
			a:    []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 3, 15)}},
			b:    []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 2)}},
			want: []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 2)}},
		},
		{
			name: "dateless entries dropped",
			a:    []types.AffectedAccount{{AccountID: acct1}},
			b:    []types.AffectedAccount{{AccountID: acct2, OldestChangedTransaction: date(2026, 2, 1)}},
			want: []types.AffectedAccount{{AccountID: acct2, OldestChangedTransaction: date(2026, 2, 1)}},
		},
		{
			name: "distinct accounts both kept",
			a:    []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)}},
			b:    []types.AffectedAccount{{AccountID: acct2, OldestChangedTransaction: date(2026, 2, 1)}},
			want: []types.AffectedAccount{
				{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)},
				{AccountID: acct2, OldestChangedTransaction: date(2026, 2, 1)},
			},
		},
		{
			name: "first occurrence wins on equal dates",
			a:    []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)}},
			b:    []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)}},
			want: []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeAccounts(tt.a, tt.b)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestNoTopicIsSilentNoOp(t *testing.T) {
	f := newFixture("")
	e := evt(types.IngestionFinishedPayload{UserSiteID: siteA})
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		e,
	}
	f.gate.OnIngestionFinished(context.Background(), &e, e.Payload.(types.IngestionFinishedPayload), events)
	assert.Empty(t, f.pub.Published)
}

func TestDataSavedSuppressedForFeedback(t *testing.T) {
	f := newFixture("webhook-topic")
	e := evt(types.IngestionFinishedPayload{UserSiteID: siteA})
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginCategorizationFeedback}),
		e,
	}
	f.gate.OnIngestionFinished(context.Background(), &e, e.Payload.(types.IngestionFinishedPayload), events)
	assert.Empty(t, f.pub.Published)
}

func TestDataSavedEmitted(t *testing.T) {
	f := newFixture("webhook-topic")
	p := types.IngestionFinishedPayload{
		UserSiteID: siteA,
		Accounts:   []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 5)}},
	}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		e,
	}
	f.gate.OnIngestionFinished(context.Background(), &e, p, events)

	payload := f.lastPayload(t)
	assert.Equal(t, types.WebhookDataSaved, payload.Event)
	require.Len(t, payload.UserSiteResults, 1)
	assert.Equal(t, siteA, payload.UserSiteResults[0].UserSiteID)
	assert.Equal(t, types.ConnectionConnected, payload.UserSiteResults[0].ConnectionStatus)
	assert.Equal(t, "user-1", f.pub.Published[0].OrderingKey)
}

func TestAllFailedEmitsActivityFinished(t *testing.T) {
	f := newFixture("webhook-topic")
	trigger := evt(types.UserSiteRefreshedPayload{
		UserSiteID:       siteB,
		Outcome:          types.OutcomeFailed,
		ConnectionStatus: types.ConnectionDisconnected,
		FailureReason:    "bank timeout",
	})
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA, siteB}}),
		evt(types.UserSiteRefreshedPayload{
			UserSiteID:       siteA,
			Outcome:          types.OutcomeFailed,
			ConnectionStatus: types.ConnectionDisconnected,
			FailureReason:    "credentials invalid",
		}),
		trigger,
	}
	f.gate.OnAllFailed(context.Background(), &trigger, events)

	payload := f.lastPayload(t)
	assert.Equal(t, types.WebhookActivityFinished, payload.Event)
	assert.Len(t, payload.UserSiteResults, 2)
	for _, r := range payload.UserSiteResults {
		assert.Equal(t, types.ConnectionDisconnected, r.ConnectionStatus)
		assert.NotEmpty(t, r.FailureReason)
	}
}

func TestAggregationDeferredWhenClientAwaitsEnrichment(t *testing.T) {
	f := newFixture("webhook-topic")
	f.clients.Configs["client-1"] = types.ClientConfig{
		ClientID:          "client-1",
		WebhookConfigured: true,
		Enrichment:        types.EnrichmentFeatures{Categorization: true},
	}

	p := types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		e,
	}
	f.gate.OnAggregationFinished(context.Background(), &e, p, events)
	assert.Empty(t, f.pub.Published)
}

func TestAggregationEmitsForPlainClient(t *testing.T) {
	f := newFixture("webhook-topic")
	p := types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		evt(types.IngestionFinishedPayload{
			UserSiteID: siteA,
			Accounts:   []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 5)}},
		}),
		e,
	}
	f.gate.OnAggregationFinished(context.Background(), &e, p, events)

	payload := f.lastPayload(t)
	assert.Equal(t, types.WebhookActivityFinished, payload.Event)
	require.Len(t, payload.UserSiteResults, 1)
	require.Len(t, payload.UserSiteResults[0].Accounts, 1)
	assert.Equal(t, acct1, payload.UserSiteResults[0].Accounts[0].AccountID)
}

func TestEnrichmentTimeoutEmitsTimedOut(t *testing.T) {
	f := newFixture("webhook-topic")
	p := types.EnrichmentFinishedPayload{
		Status: types.EnrichmentTimeout,
		AccountsByUserSite: map[uuid.UUID][]types.AffectedAccount{
			siteA: {{AccountID: acct1, OldestChangedTransaction: date(2026, 2, 1)}},
		},
	}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		evt(types.IngestionFinishedPayload{
			UserSiteID: siteA,
			Accounts:   []types.AffectedAccount{{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 5)}},
		}),
		e,
	}
	f.gate.OnEnrichmentFinished(context.Background(), &e, p, events)

	payload := f.lastPayload(t)
	assert.Equal(t, types.WebhookActivityTimedOut, payload.Event)
	require.Len(t, payload.UserSiteResults, 1)
	require.Len(t, payload.UserSiteResults[0].Accounts, 1)
	// Ingestion saw the account first with the earlier date.
	assert.Equal(t, "2026-01-05", payload.UserSiteResults[0].Accounts[0].OldestChangedTransaction.Format("2006-01-02"))
}

func TestFeedbackTriggerLooksUpOtherOccurrence(t *testing.T) {
	f := newFixture("webhook-topic")
	enrichment := evt(types.EnrichmentFinishedPayload{
		Status:             types.EnrichmentSuccess,
		AccountsByUserSite: map[uuid.UUID][]types.AffectedAccount{siteA: {{AccountID: acct1, OldestChangedTransaction: date(2026, 1, 1)}}},
	})
	trigger := evt(types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}})
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginCounterpartiesFeedback}),
		enrichment,
		trigger,
	}

	f.gate.OnFeedbackTrigger(context.Background(), &trigger, events)
	payload := f.lastPayload(t)
	assert.Equal(t, types.WebhookActivityFinished, payload.Event)
}

func TestFeedbackTriggerNoEnrichmentYet(t *testing.T) {
	f := newFixture("webhook-topic")
	trigger := evt(types.AggregationFinishedPayload{UserSiteIDs: []uuid.UUID{siteA}})
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginCounterpartiesFeedback}),
		trigger,
	}
	f.gate.OnFeedbackTrigger(context.Background(), &trigger, events)
	assert.Empty(t, f.pub.Published)
}

func TestEnvelopeSignedAndArchived(t *testing.T) {
	f := newFixture("webhook-topic")
	f.clients.Configs["client-1"] = types.ClientConfig{
		ClientID:          "client-1",
		WebhookConfigured: true,
		WebhookSecretName: "client-1-webhook-secret",
	}
	f.secrets.Secrets["client-1-webhook-secret"] = "hunter2"

	p := types.IngestionFinishedPayload{UserSiteID: siteA}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		e,
	}
	f.gate.OnIngestionFinished(context.Background(), &e, p, events)

	require.Len(t, f.pub.Published, 1)
	var envelope types.WebhookEnvelope
	require.NoError(t, json.Unmarshal(f.pub.Published[0].Event.Data(), &envelope))
	assert.Equal(t, "AIS", envelope.WebhookKind)

	body, err := json.Marshal(envelope.Payload)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), envelope.Signature)

	assert.NotEmpty(t, f.blobs.Objects, "envelope must be archived")
}

func TestWebhookNotConfiguredForClient(t *testing.T) {
	f := newFixture("webhook-topic")
	f.clients.Configs["client-1"] = types.ClientConfig{ClientID: "client-1", WebhookConfigured: false}

	p := types.IngestionFinishedPayload{UserSiteID: siteA}
	e := evt(p)
	events := []types.ActivityEvent{
		evt(types.StartPayload{Origin: types.OriginRefreshUserSites, UserSiteIDs: []uuid.UUID{siteA}}),
		e,
	}
	f.gate.OnIngestionFinished(context.Background(), &e, p, events)
	assert.Empty(t, f.pub.Published)
}
