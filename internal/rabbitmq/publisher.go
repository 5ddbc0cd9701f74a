package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/metrics"
	"github.com/Checker-Finance/darkpool-adapter/internal/publisher"
	"github.com/Checker-Finance/darkpool-adapter/pkg/model"
)

// QueueFlowTransitions receives every flow state change.
const QueueFlowTransitions = "darkpool.flows.transitions"

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes flow events to RabbitMQ.
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	logger  *zap.Logger
}

// NewPublisher dials url and declares the flow transition queue.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := ch.QueueDeclare(QueueFlowTransitions, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", QueueFlowTransitions, err)
	}
	return &Publisher{channel: ch, logger: logger}, nil
}

// PublishFlowTransition sends tr wrapped in the canonical envelope.
func (p *Publisher) PublishFlowTransition(ctx context.Context, tr model.FlowTransition) error {
	env, err := publisher.FlowTransitionEnvelope(tr)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("rabbitmq.marshal_failed", zap.Error(err))
		return err
	}

	priority := uint8(0)
	if tr.To.Terminal() {
		priority = 5
	}

	err = p.channel.PublishWithContext(
		ctx,
		"",                   // exchange
		QueueFlowTransitions, // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: tr.FlowID.String(),
			MessageId:     env.ID.String(),
			Type:          env.EventType,
			Timestamp:     env.Timestamp,
			Priority:      priority,
			Body:          body,
		},
	)
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed",
			zap.String("flow_id", tr.FlowID.String()),
			zap.Error(err))
		metrics.IncError("rabbitmq", "publish_failed")
		return err
	}

	p.logger.Debug("rabbitmq.published",
		zap.String("flow_id", tr.FlowID.String()),
		zap.String("to", string(tr.To)))
	return nil
}

// Close closes the publisher
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
