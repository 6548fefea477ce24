package wire

import (
	"encoding/json"
	"fmt"
)

// Server to client message types
const (
	TypeRealtime     = "realtime"
	TypeFullSentence = "fullSentence"
)

// Message is a transcript pushed to clients
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EncodeMessage renders a message as JSON text
func EncodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a server message
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	return m, nil
}
