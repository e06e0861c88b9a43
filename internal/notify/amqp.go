package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultExchange is the topic exchange change events are published to.
const DefaultExchange = "inbox.events"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn        *amqp091.Connection
	openChannel func() (amqpChannel, error)
	exchange    string
	log         zerolog.Logger
}

// NewAMQPPublisher dials url and declares the durable topic exchange.
func NewAMQPPublisher(url, exchange string, log zerolog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}

	p := newAMQPPublisher(func() (amqpChannel, error) { return conn.Channel() }, exchange, log)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(open func() (amqpChannel, error), exchange string, log zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		openChannel: open,
		exchange:    exchange,
		log:         log.With().Str("component", "amqp_publisher").Logger(),
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	ch, err := p.openChannel()
	if err != nil {
		return fmt.Errorf("notify: open channel: %w", err)
	}
	defer ch.Close()

	key := RoutingKey(env)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", key, err)
	}
	p.log.Debug().Str("key", key).Str("exchange", p.exchange).Str("event_id", env.Meta.ID).Msg("published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
