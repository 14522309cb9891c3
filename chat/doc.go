// Package chat is the conversation engine. The Orchestrator resolves the
// assistant and conversation for a call, optionally grounds the turn in
// retrieved passages, streams the completion, and folds every delta into
// the store through the Merger while emitting events for the transport.
//
// The event stream per turn is: an optional ConversationID (new chats
// only), zero or more Message fragments, and at most one terminal Error.
// Transports add their own end-of-stream framing on top.
package chat
