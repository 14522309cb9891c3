package chat

import "errors"

var (
	// ErrInvalidAssistant means the assistant lookup failed before any
	// provider call was made.
	ErrInvalidAssistant = errors.New("invalid assistant")
	// ErrInvalidConversation means the conversation does not exist or is
	// not owned by the caller.
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrInvalidRestartPoint means the restart message id is not part of
	// the conversation; the conversation is left untouched.
	ErrInvalidRestartPoint = errors.New("invalid restart point")
)
