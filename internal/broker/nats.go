package broker

import (
	"context"

	"qms/queue-engine/internal/models"

	"github.com/nats-io/nats.go"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event on <prefix>.<location>.<type>.
type NATSSink struct {
	conn   natsPublisher
	prefix string
	close  func()
}

func DialNATS(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("queue-engine"))
	if err != nil {
		return nil, err
	}
	sink := NewNATSSink(conn, prefix)
	sink.close = conn.Close
	return sink, nil
}

func NewNATSSink(conn natsPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "queue"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(event models.Event) string {
	return s.prefix + "." + event.LocationID + "." + event.Type
}

func (s *NATSSink) Deliver(ctx context.Context, event models.Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(event), data)
}

func (s *NATSSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
