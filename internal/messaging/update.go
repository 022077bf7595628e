package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Update is the JSON body published on relay.update.<item>.
type Update struct {
	Item     string            `json:"item"`
	Fields   map[string]string `json:"fields"`
	Snapshot bool              `json:"snapshot"`
}

// UpdateSubject returns the subject updates for item are published on.
func UpdateSubject(item string) string {
	return SubjectUpdate + "." + item
}

// PublishUpdate encodes u and publishes it on its item's subject.
func (c *NATSClient) PublishUpdate(u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("messaging: encode update: %w", err)
	}
	return c.Publish(UpdateSubject(u.Item), data)
}

// SubscribeUpdates delivers every update published for item. Bodies that do
// not decode are logged and skipped.
func (c *NATSClient) SubscribeUpdates(item string, handler func(Update)) error {
	return c.Subscribe(UpdateSubject(item), func(msg *nats.Msg) {
		var u Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			c.log.Warn("invalid update payload", "subject", msg.Subject, "error", err)
			return
		}
		handler(u)
	})
}

// UpdateSink publishes feed updates to NATS. It satisfies feed.Sink.
type UpdateSink struct {
	client *NATSClient
}

// NewUpdateSink creates a sink publishing through client.
func NewUpdateSink(client *NATSClient) *UpdateSink {
	return &UpdateSink{client: client}
}

// Update publishes the event. Failures are logged; the local broadcast is
// not affected.
func (s *UpdateSink) Update(item string, event map[string]string, isSnapshot bool) {
	err := s.client.PublishUpdate(Update{Item: item, Fields: event, Snapshot: isSnapshot})
	if err != nil {
		s.client.log.Error("publish update failed", "item", item, "error", err)
	}
}
