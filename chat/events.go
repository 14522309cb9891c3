package chat

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Event is one orchestrator output. The concrete types below are the only
// events this engine produces; transports dispatch on the concrete type.
type Event interface {
	event()
}

// ConversationID announces the id of a freshly created conversation. It is
// the first event of a new chat and never appears on a continued one.
type ConversationID struct {
	ID uuid.UUID
}

func (ConversationID) event() {}

// Message carries one incremental fragment of the reply. Clients append
// fragments with the same source to reconstruct the full message.
type Message struct {
	Timestamp strfmt.DateTime
	Source    string
	Content   string
	Reasoning string
}

func (Message) event() {}

func (m Message) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "timestamp", m.Timestamp.String()); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "source", m.Source); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "message", m.Content); err != nil {
		return nil, err
	}
	if m.Reasoning != "" {
		if out, err = sjson.SetBytes(out, "reasoning", m.Reasoning); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid message event: %s", data)
	}
	parsed := gjson.ParseBytes(data)

	ts := parsed.Get("timestamp")
	if !ts.Exists() {
		return fmt.Errorf("missing timestamp in message event")
	}
	if err := m.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
		return fmt.Errorf("invalid timestamp in message event: %w", err)
	}

	source := parsed.Get("source")
	if !source.Exists() {
		return fmt.Errorf("missing source in message event")
	}
	m.Source = source.String()
	m.Content = parsed.Get("message").String()
	m.Reasoning = parsed.Get("reasoning").String()
	return nil
}

// Error is the terminal failure event. It carries a short user-safe
// message; internal detail stays in the logs.
type Error struct {
	Timestamp strfmt.DateTime
	Message   string
}

func (Error) event() {}

func (e Error) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "timestamp", e.Timestamp.String()); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "source", "error"); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "message", e.Message); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Error) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid error event: %s", data)
	}
	parsed := gjson.ParseBytes(data)

	if parsed.Get("source").String() != "error" {
		return fmt.Errorf("not an error event: %s", data)
	}
	ts := parsed.Get("timestamp")
	if !ts.Exists() {
		return fmt.Errorf("missing timestamp in error event")
	}
	if err := e.Timestamp.UnmarshalText([]byte(ts.String())); err != nil {
		return fmt.Errorf("invalid timestamp in error event: %w", err)
	}
	e.Message = parsed.Get("message").String()
	return nil
}
