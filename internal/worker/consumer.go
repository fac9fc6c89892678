package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobqueue/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Waker is anything that can be nudged to poll early.
type Waker interface {
	Wake()
}

// DeliverySource starts a consumer bound to a routing key.
type DeliverySource interface {
	Consume(routingKey, consumerTag string) (<-chan amqp.Delivery, error)
}

// WakeConsumer turns job.enqueued messages into Wake calls. Messages only cut
// latency: the database stays the source of truth, so a lost message delays a
// job until the next poll and never loses it.
type WakeConsumer struct {
	source DeliverySource
	waker  Waker
	tag    string
	logger *slog.Logger
}

// NewWakeConsumer creates a WakeConsumer.
func NewWakeConsumer(source DeliverySource, waker Waker, consumerTag string, logger *slog.Logger) *WakeConsumer {
	return &WakeConsumer{
		source: source,
		waker:  waker,
		tag:    consumerTag,
		logger: logger,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes.
func (c *WakeConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(domain.RoutingKeyJobEnqueued, c.tag)
	if err != nil {
		return fmt.Errorf("failed to start wake consumer: %w", err)
	}

	c.dispatch(ctx, deliveries)
	return nil
}

func (c *WakeConsumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				c.logger.Error("Failed to parse message JSON", slog.Any("error", err))
				c.nack(delivery)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				c.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", msg.JobID),
				)
				c.nack(delivery)
				continue
			}

			c.waker.Wake()

			if err := delivery.Ack(false); err != nil {
				c.logger.Error("Failed to ACK message", slog.Any("error", err))
			}

			c.logger.Debug("Workers woken",
				slog.String("job_id", msg.JobID),
				slog.String("job_type", msg.JobType),
			)
		}
	}
}

func (c *WakeConsumer) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK message", slog.Any("error", err))
	}
}
