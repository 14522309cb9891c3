package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
	"github.com/helsingborg-stad/fai-chat/store"
)

// Merger folds one stream of deltas into a persisted conversation. Each
// delta is written through synchronously: the append-vs-extend decision for
// the next delta depends on the tail that was just committed.
//
// A Merger serves exactly one stream; create a new one per turn.
type Merger struct {
	store          store.Store
	conversationID uuid.UUID

	tail     messages.Message
	prevRole messages.Role
	started  bool
}

func NewMerger(s store.Store, conversationID uuid.UUID) *Merger {
	return &Merger{store: s, conversationID: conversationID}
}

// Apply merges one delta. A role change against the previous delta of this
// stream opens a new tail message; the same role extends the tail in place.
// The first delta of a stream always opens a new tail.
func (m *Merger) Apply(ctx context.Context, delta messages.Delta) error {
	if !m.started || delta.Role != m.prevRole {
		msg := messages.NewMessage(delta, strfmt.DateTime(time.Now()))
		if err := m.store.AppendMessage(ctx, m.conversationID, msg); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		m.tail = msg
	} else {
		delta.Merge(&m.tail)
		if err := m.store.ReplaceLastMessage(ctx, m.conversationID, m.tail); err != nil {
			return fmt.Errorf("failed to extend tail message: %w", err)
		}
	}
	m.prevRole = delta.Role
	m.started = true
	return nil
}

// Append persists a whole message outside the delta stream, such as the
// system instructions or the user's turn. It does not participate in
// role-boundary tracking.
func (m *Merger) Append(ctx context.Context, role messages.Role, content string) (messages.Message, error) {
	msg := messages.Message{
		ID:        uuidx.New(),
		Role:      role,
		Content:   content,
		Timestamp: strfmt.DateTime(time.Now()),
	}
	if err := m.store.AppendMessage(ctx, m.conversationID, msg); err != nil {
		return messages.Message{}, fmt.Errorf("failed to append %s message: %w", role, err)
	}
	return msg, nil
}

// RestartFrom truncates the conversation to just before the given message.
// An unknown id fails with ErrInvalidRestartPoint and mutates nothing.
func (m *Merger) RestartFrom(ctx context.Context, messageID uuid.UUID) error {
	err := m.store.TruncateFrom(ctx, m.conversationID, messageID)
	if errors.Is(err, store.ErrMessageNotFound) {
		return ErrInvalidRestartPoint
	}
	return err
}
