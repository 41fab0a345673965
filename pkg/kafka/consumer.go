package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RajaSunrise/toko-order/internal/models"

	"github.com/segmentio/kafka-go"
)

// Handler processes one event. Offsets are committed only when it returns nil.
type Handler func(ctx context.Context, event models.EventEnvelope) error

// Consumer reads order events with a consumer group and fans them out to
// a fixed number of workers.
type Consumer struct {
	r       *kafka.Reader
	workers int
	logger  *slog.Logger
}

// NewConsumer creates a Consumer in group for topic.
func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		workers: workers,
		logger:  slog.Default().With("component", "kafka_consumer", "topic", topic, "group", group),
	}
}

// Start blocks until ctx is canceled or reading fails.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, h, m); err != nil {
					c.logger.Warn("worker error", "offset", m.Offset, "error", err)
					time.Sleep(200 * time.Millisecond)
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.logger.Warn("failed to commit offset", "offset", m.Offset, "error", err)
				}
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var event models.EventEnvelope
	if err := json.Unmarshal(m.Value, &event); err != nil {
		// Malformed messages are committed and skipped.
		c.logger.Error("dropping malformed event", "offset", m.Offset, "error", err)
		return nil
	}
	if err := h(ctx, event); err != nil {
		return fmt.Errorf("handle event %s: %w", event.EventID, err)
	}
	return nil
}
