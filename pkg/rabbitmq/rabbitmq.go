package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RajaSunrise/toko-order/internal/models"

	amqp "github.com/streadway/amqp"
)

// DefaultQueue is the queue order events are published to.
const DefaultQueue = "order_queue"

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
	logger  *slog.Logger
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL   string
	Queue string
}

// NewClient creates a new RabbitMQ client.
// It connects to RabbitMQ, opens a channel and declares the order queue.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueue(ch, cfg.Queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger := slog.Default().With("component", "rabbitmq", "queue", cfg.Queue)
	logger.Info("RabbitMQ client connected")

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
		logger:  logger,
	}, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare %s: %w", name, err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PublishOrderEvent publishes event as a persistent JSON message to the
// order queue.
func (c *Client) PublishOrderEvent(ctx context.Context, event models.EventEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.Publish(
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.EventID,
			CorrelationId: event.CorrelationID,
			Type:          event.EventType,
			Timestamp:     event.OccurredAt,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("sent order event", "event_id", event.EventID, "event_type", event.EventType)
	return nil
}

// ConsumeOrderEvents delivers events from the order queue to handler until
// the channel closes. Messages are acked when handler returns nil and
// requeued otherwise; undecodable messages are rejected without requeue.
func (c *Client) ConsumeOrderEvents(handler func(event models.EventEnvelope) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	if err := declareQueue(c.channel, c.queue); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("waiting for order events")

	go func() {
		for msg := range msgs {
			c.dispatch(msg, handler)
		}
	}()

	return nil
}

// acknowledger is the part of amqp.Delivery dispatch needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Client) dispatch(msg amqp.Delivery, handler func(event models.EventEnvelope) error) {
	c.settle(msg.DeliveryTag, msg.Body, &msg, handler)
}

func (c *Client) settle(tag uint64, body []byte, ack acknowledger, handler func(event models.EventEnvelope) error) {
	var event models.EventEnvelope
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("rejecting malformed message", "delivery_tag", tag, "error", err)
		if err := ack.Nack(false, false); err != nil {
			c.logger.Error("failed to nack message", "delivery_tag", tag, "error", err)
		}
		return
	}

	if err := handler(event); err != nil {
		c.logger.Warn("failed to process message", "delivery_tag", tag, "event_id", event.EventID, "error", err)
		if err := ack.Nack(false, true); err != nil {
			c.logger.Error("failed to nack message", "delivery_tag", tag, "error", err)
		}
		return
	}
	if err := ack.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "delivery_tag", tag, "error", err)
	}
}
