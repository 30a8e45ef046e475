package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope carries an encoded frame between worker processes.
type Envelope struct {
	Origin string `json:"origin"`
	Thread int64  `json:"thread"`
	Data   []byte `json:"data"`
}

// ErrEmptyEnvelope is returned for a message without a frame.
var ErrEmptyEnvelope = errors.New("envelope has no data")

// MarshalEnvelope encodes an envelope for the relay channel.
func MarshalEnvelope(origin string, thread int64, data []byte) ([]byte, error) {
	b, err := json.Marshal(Envelope{Origin: origin, Thread: thread, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// UnmarshalEnvelope decodes a relay message.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	return env, nil
}
