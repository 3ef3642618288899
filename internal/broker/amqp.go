package broker

import (
	"context"
	"time"

	"qms/queue-engine/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink feeds participant-facing events into a durable RabbitMQ queue
// for the notification service.
type AMQPSink struct {
	channel amqpChannel
	queue   string
	conn    *amqp.Connection
}

func DialAMQP(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if queue == "" {
		queue = "queue.notifications"
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	sink := NewAMQPSink(ch, queue)
	sink.conn = conn
	return sink, nil
}

func NewAMQPSink(ch amqpChannel, queue string) *AMQPSink {
	return &AMQPSink{channel: ch, queue: queue}
}

func (s *AMQPSink) Name() string { return "amqp" }

// Deliver skips events that concern nobody in particular.
func (s *AMQPSink) Deliver(ctx context.Context, event models.Event) error {
	if len(event.AffectedOwnerIDs) == 0 {
		return nil
	}
	body, err := event.ToJSON()
	if err != nil {
		return err
	}
	return s.channel.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Type:         event.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
