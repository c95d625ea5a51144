package domain

import (
	"encoding/json"
	"fmt"
)

// Level is the hierarchy level an update applies to.
type Level string

const (
	LevelQuest     Level = "QUEST"
	LevelObjective Level = "OBJECTIVE"
)

func (l Level) valid() bool {
	return l == LevelQuest || l == LevelObjective
}

// UpdateKind discriminates the three update variants.
type UpdateKind int

const (
	KindAdd UpdateKind = iota + 1
	KindUpdate
	KindRemove
)

// EventKind returns the stream event name used for this kind.
func (k UpdateKind) EventKind() EventKind {
	switch k {
	case KindAdd:
		return EventNewItem
	case KindUpdate:
		return EventUpdateItem
	case KindRemove:
		return EventRemoveItem
	default:
		return ""
	}
}

func (k UpdateKind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// TypedUpdate is implemented by AddUpdate, ChangeUpdate and RemoveUpdate.
// A value of one of these types has always passed validation when it was
// produced by a Decode function.
type TypedUpdate interface {
	Kind() UpdateKind
	HierarchyLevel() Level
}

// AddUpdate is published on TopicAdd when a new entity is created.
type AddUpdate struct {
	Type    Level           `json:"type"`
	NewData json.RawMessage `json:"newData"`
}

func (AddUpdate) Kind() UpdateKind { return KindAdd }
func (u AddUpdate) HierarchyLevel() Level { return u.Type }

// ChangeUpdate is published on TopicUpdate when fields of an entity change.
type ChangeUpdate struct {
	Type         Level           `json:"type"`
	UpdateDetail json.RawMessage `json:"updateDetail"`
}

func (ChangeUpdate) Kind() UpdateKind { return KindUpdate }
func (u ChangeUpdate) HierarchyLevel() Level { return u.Type }

// RemoveUpdate is published on TopicRemove when an entity is deleted.
type RemoveUpdate struct {
	Type Level  `json:"type"`
	ID   string `json:"id"`
}

func (RemoveUpdate) Kind() UpdateKind { return KindRemove }
func (u RemoveUpdate) HierarchyLevel() Level { return u.Type }

// ProbePayload carries the correlation value of a connectivity probe.
type ProbePayload struct {
	TestValue int64 `json:"testValue"`
}

// DecodeAdd parses and validates a TopicAdd payload.
func DecodeAdd(payload []byte) (AddUpdate, error) {
	var u AddUpdate
	if err := decodeObject(payload, &u); err != nil {
		return AddUpdate{}, err
	}
	if !u.Type.valid() {
		return AddUpdate{}, fmt.Errorf("%w: unknown type %q", ErrShape, u.Type)
	}
	fields, err := objectFields(u.NewData, "newData")
	if err != nil {
		return AddUpdate{}, err
	}
	var id string
	if err := json.Unmarshal(fields["id"], &id); err != nil || id == "" {
		return AddUpdate{}, fmt.Errorf("%w: newData.id must be a non-empty string", ErrShape)
	}
	return u, nil
}

// DecodeChange parses and validates a TopicUpdate payload.
func DecodeChange(payload []byte) (ChangeUpdate, error) {
	var u ChangeUpdate
	if err := decodeObject(payload, &u); err != nil {
		return ChangeUpdate{}, err
	}
	if !u.Type.valid() {
		return ChangeUpdate{}, fmt.Errorf("%w: unknown type %q", ErrShape, u.Type)
	}
	fields, err := objectFields(u.UpdateDetail, "updateDetail")
	if err != nil {
		return ChangeUpdate{}, err
	}
	if len(fields) == 0 {
		return ChangeUpdate{}, fmt.Errorf("%w: updateDetail is empty", ErrShape)
	}
	return u, nil
}

// DecodeRemove parses and validates a TopicRemove payload.
func DecodeRemove(payload []byte) (RemoveUpdate, error) {
	var u RemoveUpdate
	if err := decodeObject(payload, &u); err != nil {
		return RemoveUpdate{}, err
	}
	if !u.Type.valid() {
		return RemoveUpdate{}, fmt.Errorf("%w: unknown type %q", ErrShape, u.Type)
	}
	if u.ID == "" {
		return RemoveUpdate{}, fmt.Errorf("%w: id is required", ErrShape)
	}
	return u, nil
}

// DecodeProbe parses and validates a TopicProbe payload.
func DecodeProbe(payload []byte) (ProbePayload, error) {
	var raw struct {
		TestValue *int64 `json:"testValue"`
	}
	if err := decodeObject(payload, &raw); err != nil {
		return ProbePayload{}, err
	}
	if raw.TestValue == nil {
		return ProbePayload{}, fmt.Errorf("%w: testValue is required", ErrShape)
	}
	return ProbePayload{TestValue: *raw.TestValue}, nil
}

// decodeObject separates encoding failures (ErrInvalidPayload) from
// well-formed JSON of the wrong shape (ErrShape).
func decodeObject(payload []byte, v any) error {
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrShape, err)
	}
	return nil
}

func objectFields(raw json.RawMessage, name string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil, fmt.Errorf("%w: %s must be an object", ErrShape, name)
	}
	return fields, nil
}
