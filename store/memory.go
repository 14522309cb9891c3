package store

import (
	"context"
	"slices"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
)

// Memory is a map-backed Store for tests and single-process embedding.
// The chat layer serializes writes per conversation id, so individual
// operations only need the map itself to be concurrency safe.
type Memory struct {
	conversations *haxmap.Map[string, *Conversation]
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{conversations: haxmap.New[string, *Conversation]()}
}

func (m *Memory) Create(_ context.Context, ownerID, assistantID, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:          uuidx.New(),
		OwnerID:     ownerID,
		AssistantID: assistantID,
		Title:       title,
	}
	m.conversations.Set(conv.ID.String(), conv)
	return snapshot(conv), nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Conversation, error) {
	conv, ok := m.conversations.Get(id.String())
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(conv), nil
}

func (m *Memory) List(_ context.Context, ownerID string) ([]Conversation, error) {
	var out []Conversation
	m.conversations.ForEach(func(_ string, conv *Conversation) bool {
		if conv.OwnerID == ownerID {
			out = append(out, *snapshot(conv))
		}
		return true
	})
	slices.SortFunc(out, func(a, b Conversation) int {
		// v7 ids sort by creation time
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (m *Memory) AppendMessage(_ context.Context, id uuid.UUID, msg messages.Message) error {
	conv, ok := m.conversations.Get(id.String())
	if !ok {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (m *Memory) ReplaceLastMessage(_ context.Context, id uuid.UUID, msg messages.Message) error {
	conv, ok := m.conversations.Get(id.String())
	if !ok {
		return ErrNotFound
	}
	if len(conv.Messages) == 0 {
		return ErrEmptyConversation
	}
	conv.Messages[len(conv.Messages)-1] = msg
	return nil
}

func (m *Memory) TruncateFrom(_ context.Context, id uuid.UUID, messageID uuid.UUID) error {
	conv, ok := m.conversations.Get(id.String())
	if !ok {
		return ErrNotFound
	}
	idx := slices.IndexFunc(conv.Messages, func(msg messages.Message) bool {
		return msg.ID == messageID
	})
	if idx < 0 {
		return ErrMessageNotFound
	}
	conv.Messages = conv.Messages[:idx]
	return nil
}

func (m *Memory) SetTitle(_ context.Context, id uuid.UUID, title string) error {
	conv, ok := m.conversations.Get(id.String())
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	return nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.conversations.Get(id.String()); !ok {
		return ErrNotFound
	}
	m.conversations.Del(id.String())
	return nil
}

func snapshot(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = slices.Clone(conv.Messages)
	return &out
}
