// Package stream turns a chat event sequence into a push-event wire
// stream. Pump owns the transport framing and its terminal guarantee;
// the writers behind it carry the bytes.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/tidwall/sjson"

	"github.com/helsingborg-stad/fai-chat/chat"
	"github.com/helsingborg-stad/fai-chat/pkg/slogx"
)

// Event names on the wire, emitted in this order per call.
const (
	EventConversationID = "chat.conversation_id"
	EventMessage        = "chat.message"
	EventError          = "chat.error"
	EventMessageEnd     = "chat.message_end"
)

// Pump forwards every chat event to the writer until the sequence closes
// or the context is cancelled. Exactly one terminal message_end event is
// written on every exit path. On cancellation the context error is
// returned after the terminal event so the hosting transport can run its
// own teardown; cancellation is never swallowed.
func Pump(ctx context.Context, events <-chan chat.Event, w Writer) error {
	defer func() {
		if err := w.WriteEvent(EventMessageEnd, endPayload()); err != nil {
			slog.Warn("failed to write terminal event", slogx.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := forward(w, ev); err != nil {
				return err
			}
		}
	}
}

func forward(w Writer, ev chat.Event) error {
	switch e := ev.(type) {
	case chat.ConversationID:
		// the id travels bare, not wrapped in JSON
		return w.WriteEvent(EventConversationID, []byte(e.ID.String()))
	case chat.Message:
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return w.WriteEvent(EventMessage, data)
	case chat.Error:
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return w.WriteEvent(EventError, data)
	default:
		slog.Warn("dropping unknown chat event", slog.String("type", fmt.Sprintf("%T", ev)))
		return nil
	}
}

func endPayload() []byte {
	out, err := sjson.SetBytes([]byte(`{}`), "timestamp", strfmt.DateTime(time.Now()).String())
	if err != nil {
		return []byte(`{}`)
	}
	return out
}
