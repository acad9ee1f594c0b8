package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/consultation-settlement/internal/queue"
)

// EventPublisher publishes domain events.  Implementations must not panic;
// errors are returned so the caller can choose to ignore them.
type EventPublisher interface {
	PublishSessionSettled(ctx context.Context, event q.SessionSettledEvent) error
}

// AMQPPublisher publishes events to RabbitMQ, opening a connection per
// event.
type AMQPPublisher struct {
	URL string
	Log *slog.Logger
}

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{URL: url, Log: logger.With("component", "rabbitmq")}
}

// PublishSessionSettled publishes a SessionSettledEvent to the
// "session.settled" queue.  Messages are marked as persistent.
func (p *AMQPPublisher) PublishSessionSettled(ctx context.Context, event q.SessionSettledEvent) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		p.Log.Error("dial failed", "err", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Error("channel open failed", "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// declare is idempotent
	if _, err := ch.QueueDeclare(
		q.SessionSettledQueue, // name
		true,                  // durable
		false,                 // autoDelete
		false,                 // exclusive
		false,                 // noWait
		nil,                   // args
	); err != nil {
		p.Log.Error("queue declare failed", "err", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.Log.Error("marshal event failed", "err", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    event.SessionID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",                    // default exchange
		q.SessionSettledQueue, // routing key = queue name
		false,                 // mandatory
		false,                 // immediate
		pub,
	); err != nil {
		p.Log.Error("publish failed", "err", err)
		return err
	}
	return nil
}
