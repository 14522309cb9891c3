// Package store persists conversations and their messages. The engine
// only ever appends a message or rewrites the current tail; nothing in
// this package reorders or edits settled history.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/helsingborg-stad/fai-chat/messages"
)

var (
	// ErrNotFound is returned when a conversation id does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned by TruncateFrom when the anchor
	// message is not part of the conversation. The conversation is left
	// untouched in that case.
	ErrMessageNotFound = errors.New("message not found in conversation")
	// ErrEmptyConversation is returned when ReplaceLastMessage is called
	// on a conversation with no messages.
	ErrEmptyConversation = errors.New("conversation has no messages")
)

// Conversation is one persisted chat thread.
type Conversation struct {
	ID          uuid.UUID          `json:"id"`
	OwnerID     string             `json:"owner_id"`
	AssistantID string             `json:"assistant_id"`
	Title       string             `json:"title"`
	Messages    []messages.Message `json:"messages"`
}

// Tail returns the chronologically last message, the only one eligible
// for in-place extension while a stream is live.
func (c *Conversation) Tail() (messages.Message, bool) {
	if len(c.Messages) == 0 {
		return messages.Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Store is the persistence collaborator of the chat engine. Every write
// happens synchronously as part of applying one delta; merge decisions for
// the next delta depend on the just-persisted tail.
type Store interface {
	Create(ctx context.Context, ownerID, assistantID, title string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	List(ctx context.Context, ownerID string) ([]Conversation, error)

	AppendMessage(ctx context.Context, id uuid.UUID, msg messages.Message) error
	ReplaceLastMessage(ctx context.Context, id uuid.UUID, msg messages.Message) error
	// TruncateFrom removes the message with the given id and everything
	// after it. It fails without mutating when the id is not present.
	TruncateFrom(ctx context.Context, id uuid.UUID, messageID uuid.UUID) error

	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
