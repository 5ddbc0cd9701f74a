package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/pkg/logger"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

const (
	SubjectFlowTransition = "evt.darkpool.flow.transition.v1"
	EventFlowTransition   = "darkpool.flow.transition"
	envelopeVersion       = "1.0.0"
)

// msgPublisher is the part of nats.JetStreamContext the publisher uses.
type msgPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes canonical event envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      msgPublisher
	subject string
	service string
}

// New creates a Publisher on the connection's JetStream context.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope.
// An empty subject publishes on the default subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.subject
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

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"client_id", env.ClientID,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"client_id", env.ClientID,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishFlowTransition emits a flow state change. The flow id is the
// correlation id so consumers can group a flow's events.
func (p *Publisher) PublishFlowTransition(ctx context.Context, tr model.FlowTransition) error {
	env, err := FlowTransitionEnvelope(tr)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, SubjectFlowTransition, env)
}

// Publish publishes a raw JSON payload for non-canonical internal events.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}

// FlowTransitionEnvelope wraps tr in a canonical envelope.
func FlowTransitionEnvelope(tr model.FlowTransition) (*model.Envelope, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: tr.FlowID,
		ClientID:      tr.ClientID,
		Topic:         SubjectFlowTransition,
		EventType:     EventFlowTransition,
		Version:       envelopeVersion,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}, nil
}
