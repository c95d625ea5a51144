package domain

import "encoding/json"

// EventKind is the event name of a streamed frame.
type EventKind string

const (
	EventNewItem    EventKind = "new_item"
	EventUpdateItem EventKind = "update_item"
	EventRemoveItem EventKind = "remove_item"
)

// Event is one outbound frame. ID is minted when the event is broadcast and
// never derived from the inbound message.
type Event struct {
	ID   string          `json:"id"`
	Kind EventKind       `json:"event"`
	Data json.RawMessage `json:"data"`
}
