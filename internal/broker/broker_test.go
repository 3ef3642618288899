package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"qms/queue-engine/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

type fakeNATS struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

type fakeRedis struct {
	channel string
	message interface{}
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message
	return redis.NewIntResult(1, f.err)
}

type fakeChannel struct {
	key    string
	msg    amqp.Publishing
	calls  int
	closed bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	f.calls++
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() models.Event {
	return models.Event{
		EventID:          "evt-1",
		Type:             models.EventSwapCompleted,
		LocationID:       "loc-1",
		Seq:              7,
		AffectedOwnerIDs: []string{"u1", "u2"},
	}
}

func TestNATSSinkSubject(t *testing.T) {
	conn := &fakeNATS{}
	sink := NewNATSSink(conn, "")
	if err := sink.Deliver(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if conn.subject != "queue.loc-1.swap.completed" {
		t.Fatalf("unexpected subject %s", conn.subject)
	}
	var decoded models.Event
	if err := json.Unmarshal(conn.data, &decoded); err != nil || decoded.Seq != 7 {
		t.Fatalf("unexpected payload %s: %v", conn.data, err)
	}

	conn.err = errors.New("no responders")
	if err := sink.Deliver(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestRedisSinkChannel(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "events")
	if err := sink.Deliver(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if client.channel != "events:loc-1" {
		t.Fatalf("unexpected channel %s", client.channel)
	}

	client.err = errors.New("connection refused")
	if err := sink.Deliver(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error from redis")
	}
}

func TestAMQPSinkPublishesPersistent(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewAMQPSink(ch, "queue.notifications")
	if err := sink.Deliver(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if ch.key != "queue.notifications" || ch.msg.DeliveryMode != amqp.Persistent || ch.msg.Type != models.EventSwapCompleted {
		t.Fatalf("unexpected publishing %+v to %s", ch.msg, ch.key)
	}

	quiet := sampleEvent()
	quiet.AffectedOwnerIDs = nil
	if err := sink.Deliver(context.Background(), quiet); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if ch.calls != 1 {
		t.Fatalf("expected events without owners to be skipped")
	}

	if err := sink.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel closed")
	}
}
