package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	oapi "github.com/oapi-codegen/runtime/types"
)

// EventKind enumerates the closed set of activity lifecycle event payloads.
// Adding a kind requires touching every switch over EventPayload; keep the
// set in sync with decodePayload below.
type EventKind string

const (
	KindStart               EventKind = "start"
	KindUserSiteRefreshed   EventKind = "user-site-refreshed"
	KindIngestionFinished   EventKind = "ingestion-finished"
	KindAggregationFinished EventKind = "aggregation-finished"
	KindEnrichmentFinished  EventKind = "transactions-enrichment-finished"
)

// StartOrigin identifies what triggered an activity.
type StartOrigin string

const (
	OriginCreateUserSite            StartOrigin = "create-user-site"
	OriginUpdateUserSite            StartOrigin = "update-user-site"
	OriginDeleteUserSite            StartOrigin = "delete-user-site"
	OriginRefreshUserSites          StartOrigin = "refresh-user-sites"
	OriginRefreshUserSitesFlywheel  StartOrigin = "refresh-user-sites-flywheel"
	OriginCategorizationFeedback    StartOrigin = "categorization-feedback"
	OriginCounterpartiesFeedback    StartOrigin = "counterparties-feedback"
	OriginTransactionCyclesFeedback StartOrigin = "transaction-cycles-feedback"
)

// Feedback reports whether the origin is a pure feedback activity, i.e. one
// that re-processes existing data and never refreshes a user-site.
func (o StartOrigin) Feedback() bool {
	switch o {
	case OriginCategorizationFeedback, OriginCounterpartiesFeedback, OriginTransactionCyclesFeedback:
		return true
	}
	return false
}

// RefreshOutcome is the per-user-site result of a data fetch attempt.
type RefreshOutcome string

const (
	OutcomeOK            RefreshOutcome = "ok"
	OutcomeOKSuspicious  RefreshOutcome = "ok-suspicious"
	OutcomeFailed        RefreshOutcome = "failed"
	OutcomeNewStepNeeded RefreshOutcome = "new-step-needed"
)

// Terminal reports whether no ingestion will follow for this user-site.
func (o RefreshOutcome) Terminal() bool {
	return o == OutcomeFailed || o == OutcomeNewStepNeeded
}

// ConnectionStatus is the user-visible state of a user-site connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionStepNeeded   ConnectionStatus = "step-needed"
)

// EnrichmentStatus is the outcome of the downstream enrichment pipeline.
type EnrichmentStatus string

const (
	EnrichmentSuccess EnrichmentStatus = "success"
	EnrichmentTimeout EnrichmentStatus = "timeout"
)

// AffectedAccount names one account touched by ingestion or enrichment.
// OldestChangedTransaction is date-only; nil when the producer could not
// determine it.
type AffectedAccount struct {
	AccountID                uuid.UUID  `json:"account_id"`
	OldestChangedTransaction *oapi.Date `json:"oldest_changed_transaction,omitempty"`
}

// EventPayload is the sealed union of activity event payloads.
type EventPayload interface {
	Kind() EventKind
	sealed()
}

// StartPayload records the trigger that opened an activity. UserSiteIDs is
// empty for feedback origins, which start no per-user-site work.
type StartPayload struct {
	Origin      StartOrigin `json:"origin"`
	UserSiteIDs []uuid.UUID `json:"user_site_ids,omitempty"`
}

func (StartPayload) Kind() EventKind { return KindStart }
func (StartPayload) sealed()         {}

// UserSiteRefreshedPayload is the per-user-site outcome of a provider fetch.
type UserSiteRefreshedPayload struct {
	UserSiteID       uuid.UUID        `json:"user_site_id"`
	Outcome          RefreshOutcome   `json:"outcome"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	FailureReason    string           `json:"failure_reason,omitempty"`
}

func (UserSiteRefreshedPayload) Kind() EventKind { return KindUserSiteRefreshed }
func (UserSiteRefreshedPayload) sealed()         {}

// IngestionFinishedPayload reports persisted data for one user-site.
type IngestionFinishedPayload struct {
	UserSiteID     uuid.UUID         `json:"user_site_id"`
	Accounts       []AffectedAccount `json:"accounts,omitempty"`
	StartYearMonth *YearMonth        `json:"start_year_month,omitempty"`
	EndYearMonth   *YearMonth        `json:"end_year_month,omitempty"`
}

func (IngestionFinishedPayload) Kind() EventKind { return KindIngestionFinished }
func (IngestionFinishedPayload) sealed()         {}

// AggregationFinishedPayload marks all ingestion for an activity complete.
type AggregationFinishedPayload struct {
	UserSiteIDs []uuid.UUID `json:"user_site_ids"`
}

func (AggregationFinishedPayload) Kind() EventKind { return KindAggregationFinished }
func (AggregationFinishedPayload) sealed()         {}

// EnrichmentFinishedPayload reports the enrichment pipeline outcome. The
// affected-account map may widen or narrow the set seen at ingestion time.
type EnrichmentFinishedPayload struct {
	Status             EnrichmentStatus               `json:"status"`
	AccountsByUserSite map[uuid.UUID][]AffectedAccount `json:"accounts_by_user_site,omitempty"`
}

func (EnrichmentFinishedPayload) Kind() EventKind { return KindEnrichmentFinished }
func (EnrichmentFinishedPayload) sealed()         {}

// UserSiteIDs returns the user-sites named by the enrichment outcome.
func (p EnrichmentFinishedPayload) UserSiteIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.AccountsByUserSite))
	for id := range p.AccountsByUserSite {
		ids = append(ids, id)
	}
	return ids
}

// ActivityEvent is one immutable fact in an activity's event log.
type ActivityEvent struct {
	EventID    uuid.UUID
	ActivityID uuid.UUID
	UserID     string
	ClientID   string
	EventTime  time.Time // millisecond truncated
	Payload    EventPayload
}

type eventEnvelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	ActivityID uuid.UUID       `json:"activity_id"`
	UserID     string          `json:"user_id"`
	ClientID   string          `json:"client_id,omitempty"`
	EventTime  time.Time       `json:"event_time"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event as a kind-tagged envelope.
func (e ActivityEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("activity event %s has no payload", e.EventID)
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		EventID:    e.EventID,
		ActivityID: e.ActivityID,
		UserID:     e.UserID,
		ClientID:   e.ClientID,
		EventTime:  e.EventTime,
		Kind:       e.Payload.Kind(),
		Payload:    raw,
	})
}

// UnmarshalJSON decodes a kind-tagged envelope into the concrete payload.
func (e *ActivityEvent) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	e.EventID = env.EventID
	e.ActivityID = env.ActivityID
	e.UserID = env.UserID
	e.ClientID = env.ClientID
	e.EventTime = env.EventTime.Truncate(time.Millisecond)
	e.Payload = payload
	return nil
}

// DecodePayload decodes raw payload JSON for a given kind. Unknown kinds are
// an error: the enumeration is closed.
func DecodePayload(kind EventKind, raw []byte) (EventPayload, error) {
	switch kind {
	case KindStart:
		var p StartPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindUserSiteRefreshed:
		var p UserSiteRefreshedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindIngestionFinished:
		var p IngestionFinishedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindAggregationFinished:
		var p AggregationFinishedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindEnrichmentFinished:
		var p EnrichmentFinishedPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
