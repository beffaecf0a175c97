package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StatusEvent is emitted on every observed status of a tracked bridge.
type StatusEvent struct {
	RequestID  string    `json:"request_id"`
	ClientID   string    `json:"client_id"`
	Flow       Flow      `json:"flow"`
	Status     string    `json:"status"`
	Changed    bool      `json:"changed"`
	Attempt    int       `json:"attempt"`
	InTxHashes []string  `json:"in_tx_hashes,omitempty"`
	TxHashes   []string  `json:"tx_hashes,omitempty"`
	Final      bool      `json:"final"`
	Error      string    `json:"error,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Envelope wraps an outbound event for the message bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	ClientID      string          `json:"client_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(topic, eventType, clientID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		ClientID:      clientID,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}
