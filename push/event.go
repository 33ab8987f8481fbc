package push

import (
	"encoding/json"
	"fmt"
)

// Event names used on the wire.
const (
	EventJoin       = "join"
	EventNewMessage = "newMessage"
)

// Event is one JSON frame: {"event": name, "data": payload}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data as the payload of an event called name.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("push: encode %s: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}
