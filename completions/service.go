package completions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/slogx"
	"github.com/helsingborg-stad/fai-chat/provider"
	"github.com/helsingborg-stad/fai-chat/tool"
)

// DefaultTimeout bounds one whole completion stream. The upstream contract
// defines no latency bound of its own, so the service imposes one.
const DefaultTimeout = 2 * time.Minute

// RunParams selects the backend and model for one completion call.
// Credentials travel with the call; the service holds no ambient state.
type RunParams struct {
	Provider    provider.Kind
	Model       string
	Credentials provider.Credentials
	Features    provider.FeatureSet
	Extra       map[string]any

	_ struct{}
}

// Service drives one provider stream per call: it negotiates optional
// features, forwards content deltas, reassembles the stream's tool call,
// and invokes the tool once the stream ends.
type Service struct {
	Tools   *tool.Registry
	Timeout time.Duration

	// newAdapter is swappable for tests; defaults to the provider factory.
	newAdapter func(provider.Kind, provider.Credentials) (provider.Adapter, error)
}

// Option configures a Service.
type Option = opts.Option[Service]

var (
	// WithTools sets the registry completions may dispatch into.
	WithTools = opts.ForName[Service, *tool.Registry]("Tools")
	// WithTimeout bounds each completion stream end to end.
	WithTimeout = opts.ForName[Service, time.Duration]("Timeout")
)

// WithAdapters overrides how backend adapters are constructed.
func WithAdapters(fn func(provider.Kind, provider.Credentials) (provider.Adapter, error)) Option {
	return opts.Type[Service](func(s *Service) error {
		s.newAdapter = fn
		return nil
	})
}

func New(options ...Option) (*Service, error) {
	svc := &Service{
		Tools:      tool.NewRegistry(),
		Timeout:    DefaultTimeout,
		newAdapter: provider.New,
	}
	if err := opts.Apply(svc, options); err != nil {
		return nil, err
	}
	return svc, nil
}

// Run starts one completion stream over the given history. The returned
// channel carries normalized deltas and is closed when the turn is over;
// provider rejections and tool failures arrive as role="error" deltas,
// never as raised errors once the channel exists.
func (s *Service) Run(ctx context.Context, history []messages.Message, params RunParams) (<-chan messages.Delta, error) {
	adapter, err := s.newAdapter(params.Provider, params.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider adapter: %w", err)
	}

	req := provider.Request{
		Model:     params.Model,
		Messages:  dropEmpty(history),
		Tools:     s.Tools.Definitions(),
		WebSearch: s.negotiate(ctx, params, provider.FeatureWebSearch),
		Reasoning: s.negotiate(ctx, params, provider.FeatureReasoning),
		Params:    params.Extra,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	upstream, err := adapter.Stream(runCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan messages.Delta, 10)
	go func() {
		defer close(out)
		defer cancel()

		// send gives up when the run is cancelled so an abandoned
		// consumer cannot strand this goroutine
		send := func(d messages.Delta) bool {
			select {
			case out <- d:
				return true
			case <-runCtx.Done():
				return false
			}
		}

		var asm assembler
		for delta := range upstream {
			if delta.Role == messages.RoleError {
				send(delta)
				return
			}

			if len(delta.ToolCalls) > 0 {
				if name := asm.absorb(delta.ToolCalls); name != "" {
					announce := messages.Delta{
						Role:             messages.RoleAssistant,
						ReasoningContent: fmt.Sprintf("(calling tool %s)", name),
					}
					if !send(announce) {
						return
					}
				}
				// keep the conversation tail in sync with the pending call
				pending := messages.Delta{
					Role:       messages.RoleAssistant,
					ToolCallID: asm.snapshot().ID,
					ToolCalls:  []messages.ToolCall{asm.snapshot()},
				}
				if !send(pending) {
					return
				}
				continue
			}

			if !send(delta) {
				return
			}
		}

		if runCtx.Err() != nil {
			return
		}
		if call, ok := asm.call(); ok {
			send(s.invoke(runCtx, call))
		}
	}()
	return out, nil
}

// invoke dispatches a completed tool call. The service does not re-enter
// the model with the result; feeding the tool delta back is the
// orchestrator's call to make.
func (s *Service) invoke(ctx context.Context, call messages.ToolCall) messages.Delta {
	def, found := s.Tools.Get(call.Name)
	if !found {
		return provider.ErrorDelta(fmt.Errorf("tool %q not found", call.Name))
	}

	result, err := def.Function(ctx, gjson.Parse(call.Arguments))
	if err != nil {
		slog.WarnContext(ctx, "tool invocation failed", slog.String("tool", call.Name), slogx.Error(err))
		return provider.ErrorDelta(fmt.Errorf("tool %s failed: %w", call.Name, err))
	}

	return messages.Delta{
		Role:       messages.RoleTool,
		Content:    result,
		ToolCallID: call.ID,
	}
}

// negotiate downgrades a requested feature the model cannot honor. The
// downgrade is silent towards the caller; only the log records it.
func (s *Service) negotiate(ctx context.Context, params RunParams, f provider.Feature) bool {
	if !params.Features.Has(f) {
		return false
	}
	if !provider.Supports(params.Provider, params.Model, f) {
		slog.WarnContext(ctx, "model does not support requested feature, disabling",
			slog.String("feature", string(f)),
			slog.String("model", params.Model),
		)
		return false
	}
	return true
}

// dropEmpty removes messages with nothing to say before the upstream call.
// Providers reject empty content blocks.
func dropEmpty(history []messages.Message) []messages.Message {
	kept := make([]messages.Message, 0, len(history))
	for _, msg := range history {
		if msg.Content == "" && msg.ContextOverride == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}
