// Package anthropic adapts the Anthropic messages API to the engine's
// normalized Delta stream. System-role messages become the system prompt,
// tool results travel as user-side blocks, and extended thinking maps to
// ReasoningContent deltas.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/jsonx"
	"github.com/helsingborg-stad/fai-chat/provider"
)

const defaultMaxTokens = 4096

func init() {
	provider.Register(provider.KindAnthropic, func(creds provider.Credentials) provider.Adapter {
		return New(creds)
	})
}

type Adapter struct {
	client anthropic.Client
}

func New(creds provider.Credentials, options ...option.RequestOption) *Adapter {
	reqOpts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(creds.BaseURL))
	}
	reqOpts = append(reqOpts, options...)
	return &Adapter{client: anthropic.NewClient(reqOpts...)}
}

func (a *Adapter) buildRequest(req *provider.Request) (anthropic.MessageNewParams, error) {
	msgs, system := messagesToAnthropic(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: defaultMaxTokens,
	}
	if maxTokens, ok := req.Params["max_tokens"].(int); ok {
		params.MaxTokens = int64(maxTokens)
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Reasoning {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(1024)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, t := range req.Tools {
			schema, err := jsonx.ToDynamicJSON(t.Schema)
			if err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert schema for tool %s: %w", t.Name, err)
			}
			tp := anthropic.ToolParam{
				Name:        t.Name,
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			}
			if strings.TrimSpace(t.Description) != "" {
				tp.Description = anthropic.String(t.Description)
			}
			if t.Schema != nil && len(t.Schema.Required) > 0 {
				tp.InputSchema.Required = t.Schema.Required
			}
			tools[i] = anthropic.ToolUnionParam{OfTool: &tp}
		}
		params.Tools = tools
	}

	return params, nil
}

// Stream runs a streaming message call. Once the channel is returned, all
// failures travel through it as role="error" deltas.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan messages.Delta, error) {
	params, err := a.buildRequest(&req)
	if err != nil {
		return nil, err
	}

	deltas := make(chan messages.Delta, 10)
	go func() {
		defer close(deltas)

		strm := a.client.Messages.NewStreaming(ctx, params)
		// a stream that failed at transport level has no decoder and its
		// Close would dereference nil
		if strm.Err() == nil {
			defer strm.Close()
		}

		// give up on sends once the caller is gone; an abandoned consumer
		// must not pin this goroutine
		send := func(d messages.Delta) bool {
			select {
			case deltas <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for strm.Next() {
			if ctx.Err() != nil {
				return
			}
			if d, ok := eventToDelta(strm.Current()); ok {
				if !send(d) {
					return
				}
			}
		}

		if err := strm.Err(); err != nil && ctx.Err() == nil {
			send(provider.ErrorDelta(err))
		}
	}()
	return deltas, nil
}

// Complete runs a single-shot message call and returns the concatenated
// text blocks of the reply.
func (a *Adapter) Complete(ctx context.Context, req provider.Request) (string, error) {
	params, err := a.buildRequest(&req)
	if err != nil {
		return "", err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

// messagesToAnthropic splits the history into the messages array and the
// system blocks; the API takes system prompts out of band.
func messagesToAnthropic(msgs []messages.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	result := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case messages.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case messages.RoleUser:
			content := msg.Content
			if msg.ContextOverride != "" {
				content = msg.ContextOverride
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		case messages.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			// a tool-call turn must replay its tool_use blocks, or the
			// API rejects the tool_result that follows
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case messages.RoleTool:
			// tool results ride on the user side of the transcript
			result = append(result, anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		}
	}
	return result, system
}

func eventToDelta(event anthropic.MessageStreamEventUnion) (messages.Delta, bool) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if toolUse, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			return messages.Delta{
				Role:      messages.RoleAssistant,
				ToolCalls: []messages.ToolCall{{ID: toolUse.ID, Name: toolUse.Name}},
			}, true
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return messages.Delta{Role: messages.RoleAssistant, Content: d.Text}, true
		case anthropic.ThinkingDelta:
			return messages.Delta{Role: messages.RoleAssistant, ReasoningContent: d.Thinking}, true
		case anthropic.InputJSONDelta:
			return messages.Delta{
				Role:      messages.RoleAssistant,
				ToolCalls: []messages.ToolCall{{Arguments: d.PartialJSON}},
			}, true
		}
	}
	return messages.Delta{}, false
}
