package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

const transportNATS = "nats"

// EnvelopePublisher is implemented by every outbound transport.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error
	Healthy() bool
	Close()
}

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes canonical envelopes to JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	logger  *zap.Logger
	service string
}

// New creates a JetStream publisher on an open connection.
func New(nc *nats.Conn, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Publisher{nc: nc, js: js, logger: logger, service: service}, nil
}

// PublishEnvelope serializes and publishes env on subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"client_id":      []string{env.ClientID},
		},
	}
	// JetStream de-duplicates on Nats-Msg-Id within its window.
	msg.Header.Set(nats.MsgIdHdr, env.ID.String())

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObservePublish(transportNATS, start)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.String("client_id", env.ClientID),
			zap.Error(err))
		metrics.IncEvent(transportNATS, subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType),
		zap.String("client_id", env.ClientID))
	metrics.IncEvent(transportNATS, subject, "ok")
	return nil
}

// Healthy reports whether the NATS connection is up.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		_ = p.nc.Drain()
	}
}
