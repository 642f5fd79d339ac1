package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidFrame = errors.New("invalid frame")
)

// Envelope is the frame written on the websocket. Ack is non-zero when the
// sender expects an EventAck carrying the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

func Encode(msg Message, ack uint64) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Event(), err)
	}
	return json.Marshal(Envelope{Event: msg.Event(), Data: data, Ack: ack})
}

// Decode parses a frame and validates its payload against the schema of its
// event. Payloads that do not fit are rejected here and never reach the engine.
func Decode(frame []byte) (Message, uint64, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	var raw any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return nil, env.Ack, fmt.Errorf("%w: %s payload: %v", ErrInvalidFrame, env.Event, err)
		}
	}

	msg, err := decodePayload(env.Event, raw)
	if err != nil {
		return nil, env.Ack, err
	}
	if err := msg.validate(); err != nil {
		return nil, env.Ack, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, env.Event, err)
	}
	return msg, env.Ack, nil
}

func decodePayload(event string, raw any) (Message, error) {
	switch event {
	case EventGetDocument:
		return decodeInto[GetDocument](event, raw)
	case EventSaveDocument:
		return decodeInto[SaveDocument](event, raw)
	case EventSendChanges:
		return decodeInto[SendChanges](event, raw)
	case EventCursorMove:
		return decodeInto[CursorMove](event, raw)
	case EventTitleChange:
		if s, ok := raw.(string); ok {
			return TitleChange{Title: s}, nil
		}
		return decodeInto[TitleChange](event, raw)
	case EventLoadDocument:
		return decodeInto[LoadDocument](event, raw)
	case EventReceiveChanges:
		return decodeInto[ReceiveChanges](event, raw)
	case EventUserJoined:
		return decodeInto[UserJoined](event, raw)
	case EventUserLeft:
		return decodeInto[UserLeft](event, raw)
	case EventTitleUpdate:
		// Older servers broadcast the bare title string.
		if s, ok := raw.(string); ok {
			return TitleUpdate{Title: s}, nil
		}
		return decodeInto[TitleUpdate](event, raw)
	case EventCursorUpdate:
		return decodeInto[CursorUpdate](event, raw)
	case EventError:
		if s, ok := raw.(string); ok {
			return Error{Message: s}, nil
		}
		return decodeInto[Error](event, raw)
	case EventAck:
		return decodeInto[Ack](event, raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func decodeInto[T Message](event string, raw any) (Message, error) {
	var out T
	if raw == nil {
		return out, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidFrame, event, err)
	}
	return out, nil
}

func (m GetDocument) validate() error {
	if strings.TrimSpace(m.DocumentID) == "" {
		return errors.New("documentId is required")
	}
	return nil
}

func (m SaveDocument) validate() error {
	if err := m.Snapshot.Validate(); err != nil {
		return err
	}
	if !m.Snapshot.IsSnapshot() {
		return errors.New("snapshot may only contain inserts")
	}
	return nil
}

func (m SendChanges) validate() error { return validateChange(m.Op) }

func (m CursorMove) validate() error { return validateRange(m.Index, m.Length) }

func (m TitleChange) validate() error { return nil }

func (m LoadDocument) validate() error {
	if err := m.Snapshot.Validate(); err != nil {
		return err
	}
	switch m.Permission {
	case "", PermissionEditor, PermissionViewer:
		return nil
	}
	return fmt.Errorf("unknown permission %q", m.Permission)
}

func (m ReceiveChanges) validate() error { return validateChange(m.Op) }

func (m UserJoined) validate() error { return validateRoster(m.ActiveUsers) }

func (m UserLeft) validate() error { return validateRoster(m.ActiveUsers) }

func (m TitleUpdate) validate() error { return nil }

func (m CursorUpdate) validate() error {
	if m.UserID == "" {
		return errors.New("userId is required")
	}
	return validateRange(m.Index, m.Length)
}

func (m Error) validate() error { return nil }

func (m Ack) validate() error { return nil }

func validateChange(op interface{ Validate() error }) error {
	return op.Validate()
}

func validateRange(index, length int) error {
	if index < 0 || length < 0 {
		return errors.New("cursor range must not be negative")
	}
	return nil
}

func validateRoster(users []ActiveUser) error {
	for i, u := range users {
		if u.ID == "" {
			return fmt.Errorf("activeUsers[%d]: userId is required", i)
		}
	}
	return nil
}
