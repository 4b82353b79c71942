package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chat-agents/internal/dispatch"
	"github.com/suPer8Hu/chat-agents/internal/logger"
)

// HandleFunc processes one job. A nil return acks the delivery; an error
// rejects it to the dead-letter queue.
type HandleFunc func(ctx context.Context, m JobMessage) error

type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	prefetch int
	log      *logger.Logger
}

// NewConsumer caps unacked deliveries at prefetch, which should match the
// pool's worker count.
func NewConsumer(url, queue string, prefetch int, log *logger.Logger) (*Consumer, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, prefetch: prefetch, log: logger.OrNop(log).With("queue", queue)}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run feeds deliveries into pool until ctx ends or the broker closes the
// channel.
func (c *Consumer) Run(ctx context.Context, pool *dispatch.Pool, handle HandleFunc) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info("consuming", "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			m, err := DecodeJob(d.Body)
			if err != nil {
				c.log.Warn("bad message", "error", err)
				_ = d.Nack(false, false)
				continue
			}
			err = pool.Submit(ctx, func(ctx context.Context) {
				c.settle(d, m, handle(ctx, m))
			})
			if err != nil {
				// shutting down; let the broker redeliver
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (c *Consumer) settle(d amqp.Delivery, m JobMessage, err error) {
	if err != nil {
		c.log.Warn("job failed", "job_id", m.JobID, "error", err)
		if nerr := d.Nack(false, false); nerr != nil {
			c.log.Error("nack failed", "job_id", m.JobID, "error", nerr)
		}
		return
	}
	if aerr := d.Ack(false); aerr != nil {
		c.log.Error("ack failed", "job_id", m.JobID, "error", aerr)
	}
}
