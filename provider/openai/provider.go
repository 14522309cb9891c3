package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/jsonx"
	"github.com/helsingborg-stad/fai-chat/provider"
)

func init() {
	provider.Register(provider.KindOpenAI, func(creds provider.Credentials) provider.Adapter {
		return New(creds)
	})
}

type Adapter struct {
	client *openai.Client
}

// New builds an adapter against api.openai.com or any OpenAI-compatible
// endpoint when creds.BaseURL is set.
func New(creds provider.Credentials, options ...option.RequestOption) *Adapter {
	reqOpts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(creds.BaseURL))
	}
	reqOpts = append(reqOpts, options...)
	return &Adapter{client: openai.NewClient(reqOpts...)}
}

func (a *Adapter) buildRequest(req *provider.Request) (openai.ChatCompletionNewParams, error) {
	msgs := messagesToOpenAI(req.Messages)

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, t := range req.Tools {
		jv, err := jsonx.ToDynamicJSON(t.Schema)
		if err != nil {
			return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert schema for tool %s: %w", t.Name, err)
		}
		def := openai.FunctionDefinitionParam{
			Name:       openai.String(t.Name),
			Parameters: openai.F(shared.FunctionParameters(jv)),
		}
		if strings.TrimSpace(t.Description) != "" {
			def.Description = openai.String(t.Description)
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type:     openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(def),
		}
	}

	oaiParams := openai.ChatCompletionNewParams{
		Messages: openai.F(msgs),
		Model:    openai.F(req.Model),
		N:        openai.Int(1),
	}
	if len(tools) > 0 {
		oaiParams.Tools = openai.F(tools)
	}
	if temp, ok := req.Params["temperature"].(float64); ok {
		oaiParams.Temperature = openai.Float(temp)
	}
	if maxTokens, ok := req.Params["max_tokens"].(int); ok {
		oaiParams.MaxTokens = openai.Int(int64(maxTokens))
	}

	return oaiParams, nil
}

// Stream runs a streaming chat completion. Once the channel is returned,
// all failures travel through it as role="error" deltas.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan messages.Delta, error) {
	chatParams, err := a.buildRequest(&req)
	if err != nil {
		return nil, err
	}

	deltas := make(chan messages.Delta, 10)
	go func() {
		defer close(deltas)

		strm := a.client.Chat.Completions.NewStreaming(ctx, chatParams)
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
			chunk := strm.Current()
			if d, ok := chunkToDelta(&chunk); ok {
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

// Complete runs a single-shot completion and returns the full reply text.
func (a *Adapter) Complete(ctx context.Context, req provider.Request) (string, error) {
	chatParams, err := a.buildRequest(&req)
	if err != nil {
		return "", err
	}
	chat, err := a.client.Chat.Completions.New(ctx, chatParams)
	if err != nil {
		return "", err
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

func messagesToOpenAI(msgs []messages.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case messages.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case messages.RoleUser:
			content := msg.Content
			if msg.ContextOverride != "" {
				content = msg.ContextOverride
			}
			result = append(result, openai.UserMessage(content))
		case messages.RoleTool:
			result = append(result, openai.ToolMessage(msg.ToolCallID, msg.Content))
		case messages.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				tcd := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					tcd[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   openai.String(tc.ID),
						Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
						Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      openai.String(tc.Name),
							Arguments: openai.String(tc.Arguments),
						}),
					}
				}
				result = append(result, openai.ChatCompletionMessageParam{
					Role:      openai.F(openai.ChatCompletionMessageParamRoleAssistant),
					ToolCalls: openai.F[any](tcd),
				})
				continue
			}
			result = append(result, openai.AssistantMessage(msg.Content))
		}
	}
	return result
}

func chunkToDelta(chunk *openai.ChatCompletionChunk) (messages.Delta, bool) {
	if len(chunk.Choices) == 0 {
		return messages.Delta{}, false
	}
	choice := chunk.Choices[0].Delta

	role := messages.RoleAssistant
	if choice.Role != "" {
		role = messages.Role(choice.Role)
	}

	if len(choice.ToolCalls) > 0 {
		// only the first pending call is acted on downstream, but the raw
		// fragments pass through untouched
		tcs := make([]messages.ToolCall, len(choice.ToolCalls))
		for i, tc := range choice.ToolCalls {
			tcs[i] = messages.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
		}
		return messages.Delta{Role: role, ToolCalls: tcs}, true
	}

	// OpenAI-compatible backends (DeepSeek et al) put chain-of-thought in a
	// reasoning_content field the SDK structs don't model
	reasoning := gjson.Get(choice.JSON.RawJSON(), "reasoning_content").String()

	if choice.Content == "" && reasoning == "" {
		return messages.Delta{}, false
	}
	return messages.Delta{Role: role, Content: choice.Content, ReasoningContent: reasoning}, true
}
