package models

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced = "order.placed"
)

// EventEnvelope wraps every event published to the message brokers.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OrderPlacedPayload is the payload of an order.placed event.
type OrderPlacedPayload struct {
	OrderID uint        `json:"order_id"`
	UserID  uint        `json:"user_id"`
	Total   string      `json:"total"`
	Items   []OrderItem `json:"items"`
}
