package types

// PubSubMessage is the push envelope delivered by a Pub/Sub-triggered
// CloudEvent. Data is the base64-decoded message body.
type PubSubMessage struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		OrderingKey string            `json:"orderingKey"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
