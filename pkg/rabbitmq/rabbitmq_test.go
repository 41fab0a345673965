package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/RajaSunrise/toko-order/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(multiple bool) error {
	return m.Called(multiple).Error(0)
}

func (m *mockAcknowledger) Nack(multiple, requeue bool) error {
	return m.Called(multiple, requeue).Error(0)
}

func newTestClient() *Client {
	return &Client{queue: DefaultQueue, logger: slog.Default()}
}

func envelopeBody(t *testing.T) []byte {
	body, err := json.Marshal(models.EventEnvelope{
		EventID:   uuid.NewString(),
		EventType: models.EventOrderPlaced,
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return body
}

func TestSettleAcksHandledMessage(t *testing.T) {
	ack := new(mockAcknowledger)
	ack.On("Ack", false).Return(nil).Once()

	var got models.EventEnvelope
	newTestClient().settle(1, envelopeBody(t), ack, func(e models.EventEnvelope) error {
		got = e
		return nil
	})

	assert.Equal(t, models.EventOrderPlaced, got.EventType)
	ack.AssertExpectations(t)
}

func TestSettleRequeuesOnHandlerError(t *testing.T) {
	ack := new(mockAcknowledger)
	ack.On("Nack", false, true).Return(nil).Once()

	newTestClient().settle(2, envelopeBody(t), ack, func(models.EventEnvelope) error {
		return errors.New("downstream unavailable")
	})

	ack.AssertExpectations(t)
	ack.AssertNotCalled(t, "Ack", mock.Anything)
}

func TestSettleRejectsMalformedMessage(t *testing.T) {
	ack := new(mockAcknowledger)
	ack.On("Nack", false, false).Return(nil).Once()
	called := false

	newTestClient().settle(3, []byte("{not json"), ack, func(models.EventEnvelope) error {
		called = true
		return nil
	})

	assert.False(t, called)
	ack.AssertExpectations(t)
}

func TestPublishWithoutChannel(t *testing.T) {
	err := newTestClient().PublishOrderEvent(context.Background(), models.EventEnvelope{})
	assert.Error(t, err)
}

func TestPublishAndConsume(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	client, err := NewClient(Config{URL: url, Queue: "order_queue_test_" + uuid.NewString()})
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	defer client.Close()

	event := models.EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     models.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: "5",
		Payload:       json.RawMessage(`{"order_id":5}`),
	}
	require.NoError(t, client.PublishOrderEvent(context.Background(), event))

	received := make(chan models.EventEnvelope, 1)
	require.NoError(t, client.ConsumeOrderEvents(func(e models.EventEnvelope) error {
		received <- e
		return nil
	}))

	select {
	case got := <-received:
		assert.Equal(t, event.EventID, got.EventID)
	case <-time.After(10 * time.Second):
		t.Fatal("event not consumed before timeout")
	}
}
