package messages

import (
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
)

// Role identifies the author of a message or delta.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleError is a synthetic role used for provider rejections and
	// tool lookup failures that travel through the delta stream instead
	// of being raised to the caller.
	RoleError Role = "error"
)

// ToolCall is a function invocation requested by the model. Arguments is
// the raw JSON argument string; it is only guaranteed to be valid JSON
// once the fragment stream that produced it has ended.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Complete reports whether the call carries a function name. A call
// without a name can never be dispatched, regardless of its arguments.
func (t ToolCall) Complete() bool {
	return strings.TrimSpace(t.Name) != ""
}

// Message is one entry of a persisted conversation. Messages are owned by
// their conversation and are only mutated by the merger: the tail message
// may be extended in place while a stream is live, everything before it is
// immutable.
type Message struct {
	ID               uuid.UUID       `json:"id"`
	Role             Role            `json:"role"`
	Content          string          `json:"content"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall      `json:"tool_calls,omitempty"`
	ContextOverride  string          `json:"context_override,omitempty"`
	Timestamp        strfmt.DateTime `json:"timestamp"`

	_ struct{} // require keyed usage
}

// Delta is one incremental fragment of a streaming model response. Deltas
// are ephemeral: they are never persisted directly, always folded into a
// Message by the merger.
type Delta struct {
	Role             Role       `json:"role"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ContextOverride  string     `json:"context_override,omitempty"`

	_ struct{} // require keyed usage
}

// Merge folds a same-role delta into the tail message. Content and
// reasoning append, tool-call fields and the context override replace with
// the latest non-empty value. Callers are responsible for the role check;
// a role change opens a new message instead.
func (d Delta) Merge(dst *Message) {
	dst.Content += d.Content
	dst.ReasoningContent += d.ReasoningContent
	if d.ToolCallID != "" {
		dst.ToolCallID = d.ToolCallID
	}
	if len(d.ToolCalls) > 0 {
		dst.ToolCalls = d.ToolCalls
	}
	if d.ContextOverride != "" {
		dst.ContextOverride = d.ContextOverride
	}
}

// NewMessage opens a fresh message from the first delta of a role run.
func NewMessage(d Delta, at strfmt.DateTime) Message {
	return Message{
		ID:               uuidx.New(),
		Role:             d.Role,
		Content:          d.Content,
		ReasoningContent: d.ReasoningContent,
		ToolCallID:       d.ToolCallID,
		ToolCalls:        d.ToolCalls,
		ContextOverride:  d.ContextOverride,
		Timestamp:        at,
	}
}
