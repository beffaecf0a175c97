package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

const transportAMQP = "amqp"

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a RabbitMQ topic exchange, using the
// subject as routing key.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	service  string
	logger   *zap.Logger
}

// NewAMQP dials RabbitMQ and declares a durable topic exchange.
func NewAMQP(url, exchange, service string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		service:  service,
		logger:   logger,
	}, nil
}

// PublishEnvelope publishes env as a persistent JSON message routed by subject.
func (p *AMQPPublisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	start := time.Now()
	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		subject,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.ID.String(),
			CorrelationId: env.CorrelationID.String(),
			Timestamp:     env.Timestamp,
			Type:          env.EventType,
			AppId:         p.service,
			Headers:       amqp.Table{"client_id": env.ClientID},
			Body:          body,
		},
	)
	metrics.ObservePublish(transportAMQP, start)

	if err != nil {
		p.logger.Error("publisher.amqp_publish_failed",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", subject),
			zap.Error(err))
		metrics.IncEvent(transportAMQP, subject, "error")
		return err
	}

	metrics.IncEvent(transportAMQP, subject, "ok")
	return nil
}

// Healthy reports whether the broker connection is open.
func (p *AMQPPublisher) Healthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
