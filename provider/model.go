package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/tool"
)

// Kind is the typed identity of an LLM backend. Assistants carry a Kind
// explicitly; the backend is never inferred by parsing a model string.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindOpenAI, KindAnthropic:
		return k, nil
	default:
		return "", fmt.Errorf("unknown provider kind %q", s)
	}
}

// Feature is an optional capability negotiated per completion call.
type Feature string

const (
	FeatureWebSearch Feature = "web_search"
	FeatureReasoning Feature = "reasoning"
)

// FeatureSet is the set of features requested for one call.
type FeatureSet map[Feature]struct{}

func NewFeatureSet(features ...Feature) FeatureSet {
	set := make(FeatureSet, len(features))
	for _, f := range features {
		set[f] = struct{}{}
	}
	return set
}

func (s FeatureSet) Has(f Feature) bool {
	_, ok := s[f]
	return ok
}

// Request carries everything an adapter needs for one completion call.
// System instructions travel as a leading system-role message.
type Request struct {
	Model     string
	Messages  []messages.Message
	Tools     []tool.Definition
	WebSearch bool
	Reasoning bool
	Params    map[string]any

	_ struct{}
}

// Adapter normalizes one backend's wire format into the engine's Delta
// stream. Stream returns an error only when the request cannot be built;
// once the channel exists every failure travels through it as a
// role="error" delta and the channel is closed.
//
// Complete is the single-shot form used by the retrieval scorer, where a
// full response string is wanted and streaming buys nothing.
type Adapter interface {
	Stream(ctx context.Context, req Request) (<-chan messages.Delta, error)
	Complete(ctx context.Context, req Request) (string, error)
}

// Credentials are passed explicitly into adapter construction. There is no
// process-global credential state anywhere in the engine.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// ErrorDelta wraps a failure so it can travel down the delta stream.
func ErrorDelta(err error) messages.Delta {
	return messages.Delta{Role: messages.RoleError, Content: err.Error()}
}

// Supports reports whether a model can honor an optional feature. The
// table is deliberately conservative: an unknown model supports nothing
// optional, and callers downgrade silently with a logged warning.
func Supports(kind Kind, model string, f Feature) bool {
	switch kind {
	case KindOpenAI:
		switch f {
		case FeatureWebSearch:
			return strings.Contains(model, "-search")
		case FeatureReasoning:
			return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
		}
	case KindAnthropic:
		switch f {
		case FeatureWebSearch:
			return false
		case FeatureReasoning:
			return strings.Contains(model, "claude-3-7") ||
				strings.Contains(model, "sonnet-4") ||
				strings.Contains(model, "opus-4")
		}
	}
	return false
}
