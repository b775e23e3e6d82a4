package events

import (
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher delivers events to a RabbitMQ topic exchange. The event topic is
// the routing key.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish marshals and delivers each event. The first broker error aborts the
// rest; the mutation this reports on has already committed, so the caller can
// only log and move on.
func (p *Publisher) Publish(events ...Event) error {
	for _, evt := range events {
		body, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("events: marshal %s: %w", evt.Topic, err)
		}
		err = p.channel.Publish(p.exchange, evt.Topic, false, false, amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		})
		if err != nil {
			return fmt.Errorf("events: publish %s: %w", evt.Topic, err)
		}
		p.logger.Debug("event published", zap.String("topic", evt.Topic))
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Discard is a Sink that drops every event, for callers running without a
// broker.
type Discard struct{}

func (Discard) Publish(events ...Event) error { return nil }
