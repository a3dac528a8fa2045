// Package mq wraps rabbitmq/amqp091-go for the two queues spec §6 names:
// the inbound pacs.008 topic exchange feeding the bank.inbound queue (with a
// DLQ for poison messages) and the outbound pacs.002 exchange (bank.outbound,
// routing key pacs.002). Shaped after replay-api's pkg/infra/kafka/client.go:
// one small client type holding the connection/channel, and thin
// Publish/Consume methods — swapped from Kafka's topic/partition model
// to AMQP's exchange/queue/routing-key model.
package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config names the topology spec §6 requires.
type Config struct {
	URL                string
	InboundExchange    string
	InboundQueue       string
	InboundDLQ         string
	OutboundExchange   string
	OutboundRoutingKey string
}

// Client owns one AMQP connection and channel, and declares the inbound/
// outbound topology on Dial.
type Client struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to cfg.URL, opens a channel, and declares the durable
// inbound exchange/queue/DLQ and the outbound exchange (spec §6).
func Dial(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mq: open channel: %w", err)
	}

	c := &Client{cfg: cfg, conn: conn, ch: ch}
	if err := c.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) declareTopology() error {
	if err := c.ch.ExchangeDeclare(c.cfg.InboundExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("mq: declare inbound exchange: %w", err)
	}
	if _, err := c.ch.QueueDeclare(c.cfg.InboundDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("mq: declare inbound dlq: %w", err)
	}
	if _, err := c.ch.QueueDeclare(c.cfg.InboundQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": c.cfg.InboundDLQ,
	}); err != nil {
		return fmt.Errorf("mq: declare inbound queue: %w", err)
	}
	if err := c.ch.QueueBind(c.cfg.InboundQueue, "pacs.008", c.cfg.InboundExchange, false, nil); err != nil {
		return fmt.Errorf("mq: bind inbound queue: %w", err)
	}
	if err := c.ch.ExchangeDeclare(c.cfg.OutboundExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("mq: declare outbound exchange: %w", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

// PublishOutbound sends a pacs.002 payload to the outbound exchange (spec
// §6). Delivery is persistent; a short publish-confirm window bounds the
// call per the fire-and-forget posture of outbound publication (spec §5).
func (c *Client) PublishOutbound(ctx context.Context, body []byte, correlationID string) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(publishCtx, c.cfg.OutboundExchange, c.cfg.OutboundRoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/xml",
		DeliveryMode:  amqp.Persistent,
		Body:          body,
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
	})
}

// ConsumeInbound starts consuming the inbound queue, invoking handler for
// each delivery. handler returning nil acks the delivery; a non-nil error
// nacks without requeue, letting the dead-letter binding route it to the
// DLQ (spec §4.8 step 1: invalid XML is never requeued).
func (c *Client) ConsumeInbound(ctx context.Context, consumerTag string, handler func(ctx context.Context, body []byte, messageID string) error) error {
	deliveries, err := c.ch.Consume(c.cfg.InboundQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("mq: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("mq: delivery channel closed")
			}
			if err := handler(ctx, d.Body, d.MessageId); err != nil {
				slog.Error("mq: inbound handler failed, routing to dlq", "message_id", d.MessageId, "error", err)
				if nackErr := d.Nack(false, false); nackErr != nil {
					slog.Error("mq: nack failed", "message_id", d.MessageId, "error", nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				slog.Error("mq: ack failed", "message_id", d.MessageId, "error", ackErr)
			}
		}
	}
}
