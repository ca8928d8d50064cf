package pubsub

import (
	"context"
	"encoding/json"
	"log"

	"cloud.google.com/go/pubsub"
	"github.com/cloudevents/sdk-go/v2/event"
)

// PubSubAdapter provides message publishing using Google Cloud Pub/Sub.
// Topics are published with message ordering enabled; the ordering key is
// the user id, which is what guarantees per-user delivery order.
type PubSubAdapter struct {
	Client *pubsub.Client
}

func (a *PubSubAdapter) PublishCloudEvent(ctx context.Context, topicID, orderingKey string, e event.Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	topic := a.Client.Topic(topicID)
	if orderingKey != "" {
		topic.EnableMessageOrdering = true
	}
	res := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
		Attributes: map[string]string{
			"ce-type":   e.Type(),
			"ce-source": e.Source(),
		},
	})
	return res.Get(ctx)
}

// LogPublisher is a mock publisher for local development
type LogPublisher struct{}

func (p *LogPublisher) PublishCloudEvent(ctx context.Context, topicID, orderingKey string, e event.Event) (string, error) {
	data, _ := json.Marshal(e)
	log.Printf("[LogPublisher] MOCK PUBLISH to %s (key=%s): %s", topicID, orderingKey, string(data))
	return "mock-msg-id", nil
}
