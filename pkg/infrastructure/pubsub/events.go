package pubsub

import (
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// CloudEvent type URNs produced by this service.
const (
	TypeRefreshFinished = "com.sitebridge.refresh.finished"
	TypeClientWebhook   = "com.sitebridge.webhook.ais"
)

// CloudEvent source URN. Activity events themselves are inbound only;
// every event this service emits originates from the correlation consumer.
const SourceActivityEvents = "//sitebridge/activity-events"

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}
