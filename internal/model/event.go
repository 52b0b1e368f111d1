package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Webhook event kinds the processor understands. The provider's vocabulary
// may grow; anything else is logged and dropped.
const (
	EventConnectionAccepted = "connection.accepted"
	EventConnectionRejected = "connection.rejected"
	EventMessageReceived    = "message.received"
)

// WebhookEnvelope is the wire format of a provider push notification.
// Delivery is at-least-once; EventID is used for dedupe and is assigned at
// the edge when the provider omits it.
type WebhookEnvelope struct {
	EventID string          `json:"event_id,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func (e WebhookEnvelope) Validate() error {
	if e.Event == "" {
		return errors.New("event is required")
	}
	if len(e.Data) == 0 {
		return errors.New("data is required")
	}
	return nil
}

// ConnectionEvent is the payload of connection.accepted / connection.rejected.
type ConnectionEvent struct {
	AccountID      string `json:"account_id"` // provider account id
	ProfileRef     string `json:"profile_ref"`
	ConversationID string `json:"conversation_id,omitempty"` // present on accept when a chat exists
}

// MessageReceivedEvent is the payload of message.received.
type MessageReceivedEvent struct {
	AccountID      string    `json:"account_id"`
	ConversationID string    `json:"conversation_id"`
	SenderRef      string    `json:"sender_ref"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}
