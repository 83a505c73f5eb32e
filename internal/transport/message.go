package transport

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeUpdate   MessageType = "update"
	TypePresence MessageType = "presence"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

// Message is the websocket wire envelope shared by the client and the relay
// server. Update payloads are opaque to both.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
