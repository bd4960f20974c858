// Package signal provides per-execution FIFO mailboxes and a local
// delivery bus for workflow signals.
package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is one signal envelope addressed to an execution.
type Message struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewMessage creates a message with a fresh ID and receive timestamp.
func NewMessage(target, name string, payload json.RawMessage) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Target:     target,
		Name:       name,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}
}
