// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import (
	"encoding/json"
	"time"
)

// Message is one pre-encoded websocket text frame.
type Message struct {
	Data []byte
}

// Envelope tags a payload with its kind so one socket can carry
// several streams.
type Envelope struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// Encode wraps v in an Envelope and marshals it.
func Encode(kind string, v any) (Message, error) {
	data, err := json.Marshal(Envelope{Type: kind, At: time.Now(), Data: v})
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}
