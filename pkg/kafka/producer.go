package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RajaSunrise/toko-order/internal/models"

	"github.com/segmentio/kafka-go"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("kafka producer closed")

// Producer buffers order events and writes them to a topic from a single
// goroutine. Writes are asynchronous; delivery errors are logged.
type Producer struct {
	w      *kafka.Writer
	inbox  chan kafka.Message
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewProducer creates a Producer for topic. buf bounds the number of
// messages waiting to be written.
func NewProducer(brokers []string, topic string, buf int) *Producer {
	logger := slog.Default().With("component", "kafka_producer", "topic", topic)
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,

			AllowAutoTopicCreation: true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Error("failed to write messages", "count", len(messages), "error", err)
				}
			},
		},
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start runs the write loop until Close is called.
func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.logger.Error("failed to queue message", "key", string(m.Key), "error", err)
			}
		}
		if err := p.w.Close(); err != nil {
			p.logger.Warn("failed to close writer", "error", err)
		}
	}()
}

// PublishOrderEvent queues event keyed by its correlation id, so all events
// of one order land on the same partition.
func (p *Producer) PublishOrderEvent(ctx context.Context, event models.EventEnvelope) error {
	m, err := toMessage(event)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued messages and waits for the write loop to exit.
// Start must have been called.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}

func toMessage(event models.EventEnvelope) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.CorrelationID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}, nil
}
