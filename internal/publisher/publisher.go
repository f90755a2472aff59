// Package publisher defines how run notifications are delivered.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher pushes a payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Attributed payloads carry message attributes alongside their JSON body.
type Attributed interface {
	Attributes() map[string]string
}

// Encode renders payload as JSON and collects its attributes.
func Encode(payload any) ([]byte, map[string]string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	if a, ok := payload.(Attributed); ok {
		for k, v := range a.Attributes() {
			attrs[k] = v
		}
	}
	return data, attrs, nil
}
