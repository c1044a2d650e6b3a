package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avast/retry-go/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/stratafi-io/yield-vault-engine/internal/config"
	"github.com/stratafi-io/yield-vault-engine/internal/observability/metrics"
	"github.com/stratafi-io/yield-vault-engine/internal/types"
)

// QueueManager publishes engine events to a rabbitmq topic exchange. The
// event type doubles as the routing key, so observers can bind to a single
// component (e.g. "splitter.*") or a single event.
type QueueManager struct {
	cfg     config.QueueConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

func NewQueueManager(cfg *config.QueueConfig, logger *zap.Logger) (*QueueManager, error) {
	conn, err := amqp.Dial(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to queue: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open queue channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return &QueueManager{
		cfg:     *cfg,
		conn:    conn,
		channel: channel,
		logger:  logger.With(zap.String("module", "queue")),
	}, nil
}

// PublishEvent sends one event as a JSON message, retrying transient publish
// failures. The error returned after retries are exhausted is for the
// caller's log only; emission must never fail the originating mutation.
func (qm *QueueManager) PublishEvent(ctx context.Context, event types.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	err = retry.Do(
		func() error {
			publishCtx, cancel := context.WithTimeout(ctx, qm.cfg.PublishTimeout)
			defer cancel()

			return qm.channel.PublishWithContext(
				publishCtx,
				qm.cfg.Exchange,
				event.Type.String(), // routing key
				false,               // mandatory
				false,               // immediate
				amqp.Publishing{
					ContentType:  "application/json",
					MessageId:    event.ID,
					Timestamp:    event.Timestamp,
					DeliveryMode: amqp.Persistent,
					Body:         body,
				},
			)
		},
		retry.Context(ctx),
		retry.Attempts(qm.cfg.MaxRetries),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.RecordQueuePublishError()
		qm.logger.Error("failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type.String()),
			zap.Error(err),
		)
		return err
	}

	qm.logger.Debug("published event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type.String()),
	)
	return nil
}

// Shutdown gracefully stops the interaction with the queue, ensuring all
// resources are properly released.
func (qm *QueueManager) Shutdown() {
	qm.logger.Info("shutting down queue manager")
	if err := qm.channel.Close(); err != nil {
		qm.logger.Warn("failed to close queue channel", zap.Error(err))
	}
	if err := qm.conn.Close(); err != nil {
		qm.logger.Warn("failed to close queue connection", zap.Error(err))
	}
}
