// Package slogx holds small slog attribute helpers shared across the engine.
package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns the error's message under the "error" key.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer logs the string form of any fmt.Stringer under the given key.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// Conversation tags a record with the conversation it belongs to.
func Conversation(id string) slog.Attr {
	return slog.String("conversation_id", id)
}

// Assistant tags a record with the assistant driving the call.
func Assistant(id string) slog.Attr {
	return slog.String("assistant_id", id)
}
