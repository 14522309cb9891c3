package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/helsingborg-stad/fai-chat/assistant"
	"github.com/helsingborg-stad/fai-chat/completions"
	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/slogx"
	"github.com/helsingborg-stad/fai-chat/provider"
	"github.com/helsingborg-stad/fai-chat/retrieval"
	"github.com/helsingborg-stad/fai-chat/store"
)

// titleRunes caps the auto-derived conversation title.
const titleRunes = 60

const eventBuffer = 10

// Orchestrator drives one chat turn end to end: resolve the assistant and
// conversation, optionally ground the turn in retrieved passages, stream
// the completion, fold every delta into the store, and emit events.
//
// Turns on the same conversation are serialized with a per-id mutex so two
// concurrent calls cannot race on the append-vs-extend tail decision.
type Orchestrator struct {
	Assistants  assistant.Lookup
	Store       store.Store
	Completions *completions.Service
	Scorer      *retrieval.Scorer

	// ScoringAssistant names the assistant whose model grades retrieved
	// passages. Grounded turns fail when it cannot be resolved.
	ScoringAssistant string

	creds      map[provider.Kind]provider.Credentials
	locks      *haxmap.Map[string, *sync.Mutex]
	newAdapter func(provider.Kind, provider.Credentials) (provider.Adapter, error)
}

// Option configures an Orchestrator.
type Option = opts.Option[Orchestrator]

var (
	// WithScorer enables retrieval augmentation for grounded assistants.
	WithScorer = opts.ForName[Orchestrator, *retrieval.Scorer]("Scorer")
	// WithScoringAssistant names the passage-grading assistant.
	WithScoringAssistant = opts.ForName[Orchestrator, string]("ScoringAssistant")
)

// WithCredentials registers the credentials handed to adapters for a
// backend. Credentials travel per call; nothing is read from the process
// environment at request time.
func WithCredentials(kind provider.Kind, creds provider.Credentials) Option {
	return opts.Type[Orchestrator](func(o *Orchestrator) error {
		o.creds[kind] = creds
		return nil
	})
}

// WithAdapters overrides adapter construction, used by tests.
func WithAdapters(fn func(provider.Kind, provider.Credentials) (provider.Adapter, error)) Option {
	return opts.Type[Orchestrator](func(o *Orchestrator) error {
		o.newAdapter = fn
		return nil
	})
}

func New(assistants assistant.Lookup, s store.Store, svc *completions.Service, options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		Assistants:  assistants,
		Store:       s,
		Completions: svc,
		creds:       make(map[provider.Kind]provider.Credentials),
		locks:       haxmap.New[string, *sync.Mutex](),
		newAdapter:  provider.New,
	}
	if err := opts.Apply(o, options); err != nil {
		return nil, err
	}
	return o, nil
}

// StartNewChat creates a conversation for the assistant, announces its id,
// seeds it with the assistant's instructions, and runs the first turn.
// The returned channel is closed when the turn is over.
func (o *Orchestrator) StartNewChat(ctx context.Context, uid, assistantID, message string) <-chan Event {
	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)

		asst, err := o.resolveAssistant(ctx, uid, assistantID)
		if err != nil {
			o.fail(ctx, out, ErrInvalidAssistant)
			return
		}

		conv, err := o.Store.Create(ctx, uid, assistantID, titleFrom(message))
		if err != nil {
			slog.ErrorContext(ctx, "failed to create conversation", slogx.Error(err), slogx.Assistant(assistantID))
			o.fail(ctx, out, errors.New("failed to create the conversation"))
			return
		}
		if !o.send(ctx, out, ConversationID{ID: conv.ID}) {
			return
		}

		o.run(ctx, out, conv.ID, uid, asst, message, uuid.Nil, true)
	}()
	return out
}

// ContinueChat appends the user's message to an existing conversation and
// runs one turn. A non-nil restartFrom rewinds the conversation to just
// before that message first; an unknown id fails without mutating.
func (o *Orchestrator) ContinueChat(ctx context.Context, uid string, conversationID uuid.UUID, message string, restartFrom uuid.UUID) <-chan Event {
	out := make(chan Event, eventBuffer)
	go func() {
		defer close(out)

		conv, err := o.Store.Get(ctx, conversationID)
		if err != nil || conv.OwnerID != uid {
			o.fail(ctx, out, ErrInvalidConversation)
			return
		}

		asst, err := o.resolveAssistant(ctx, uid, conv.AssistantID)
		if err != nil {
			o.fail(ctx, out, ErrInvalidAssistant)
			return
		}

		o.run(ctx, out, conv.ID, uid, asst, message, restartFrom, false)
	}()
	return out
}

// run is the shared turn body. It holds the conversation's lock for the
// whole merge phase.
func (o *Orchestrator) run(ctx context.Context, out chan<- Event, conversationID uuid.UUID, uid string, asst *assistant.Assistant, message string, restartFrom uuid.UUID, withInstructions bool) {
	lock := o.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	merger := NewMerger(o.Store, conversationID)

	if restartFrom != uuid.Nil {
		if err := merger.RestartFrom(ctx, restartFrom); err != nil {
			if errors.Is(err, ErrInvalidRestartPoint) {
				o.fail(ctx, out, ErrInvalidRestartPoint)
				return
			}
			slog.ErrorContext(ctx, "failed to rewind conversation", slogx.Error(err), slogx.Conversation(conversationID.String()))
			o.fail(ctx, out, errors.New("failed to rewind the conversation"))
			return
		}
	}

	if withInstructions && asst.Instructions != "" {
		if _, err := merger.Append(ctx, messages.RoleSystem, asst.Instructions); err != nil {
			slog.ErrorContext(ctx, "failed to persist instructions", slogx.Error(err), slogx.Conversation(conversationID.String()))
			o.fail(ctx, out, errors.New("failed to save the conversation"))
			return
		}
	}
	if _, err := merger.Append(ctx, messages.RoleUser, message); err != nil {
		slog.ErrorContext(ctx, "failed to persist user message", slogx.Error(err), slogx.Conversation(conversationID.String()))
		o.fail(ctx, out, errors.New("failed to save the conversation"))
		return
	}

	conv, err := o.Store.Get(ctx, conversationID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load conversation", slogx.Error(err), slogx.Conversation(conversationID.String()))
		o.fail(ctx, out, errors.New("failed to load the conversation"))
		return
	}
	outbound := conv.Messages

	if o.Scorer != nil && asst.Grounded() {
		contextMsg, err := o.augment(ctx, uid, asst, message)
		if err != nil {
			o.fail(ctx, out, err)
			return
		}
		// the context message rides along with the request only; it is
		// not a conversation entry of its own
		if contextMsg != nil {
			outbound = append(outbound, *contextMsg)
		}
	}

	features, params := featuresFrom(asst.ExtraParams)
	deltas, err := o.Completions.Run(ctx, outbound, completions.RunParams{
		Provider:    asst.Provider,
		Model:       asst.Model,
		Credentials: o.creds[asst.Provider],
		Features:    features,
		Extra:       params,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to start completion", slogx.Error(err), slogx.Assistant(asst.ID), slogx.Conversation(conversationID.String()))
		o.fail(ctx, out, errors.New("failed to reach the model"))
		return
	}

	for delta := range deltas {
		if delta.Role == messages.RoleError {
			o.fail(ctx, out, errors.New(delta.Content))
			return
		}
		if err := merger.Apply(ctx, delta); err != nil {
			slog.ErrorContext(ctx, "failed to merge delta", slogx.Error(err), slogx.Conversation(conversationID.String()))
			o.fail(ctx, out, errors.New("failed to save the reply"))
			return
		}
		ev := Message{
			Timestamp: strfmt.DateTime(time.Now()),
			Source:    string(delta.Role),
			Content:   delta.Content,
			Reasoning: delta.ReasoningContent,
		}
		if !o.send(ctx, out, ev) {
			return
		}
	}
}

// augment runs the retrieval-scoring step for a grounded assistant. The
// scoring backend comes from a dedicated assistant configuration so grading
// can run on a cheaper model than the conversation itself.
func (o *Orchestrator) augment(ctx context.Context, uid string, asst *assistant.Assistant, query string) (*messages.Message, error) {
	scoring, err := o.resolveAssistant(ctx, uid, o.ScoringAssistant)
	if err != nil {
		return nil, errors.New("invalid scoring assistant")
	}
	adapter, err := o.newAdapter(scoring.Provider, o.creds[scoring.Provider])
	if err != nil {
		slog.ErrorContext(ctx, "failed to build scoring adapter", slogx.Error(err), slogx.Assistant(scoring.ID))
		return nil, errors.New("failed to search the collection")
	}

	backend := retrieval.Backend{Adapter: adapter, Model: scoring.Model}
	contextMsg, err := o.Scorer.Score(ctx, backend, query, asst.CollectionID, asst.MaxCollectionResults)
	if err != nil {
		slog.ErrorContext(ctx, "retrieval scoring failed", slogx.Error(err), slogx.Assistant(asst.ID))
		return nil, errors.New("failed to search the collection")
	}
	return contextMsg, nil
}

func (o *Orchestrator) resolveAssistant(ctx context.Context, uid, id string) (*assistant.Assistant, error) {
	asst, err := o.Assistants.Get(ctx, uid, id)
	if err != nil {
		slog.WarnContext(ctx, "assistant lookup failed", slogx.Error(err), slogx.Assistant(id))
		return nil, err
	}
	if asst == nil {
		return nil, ErrInvalidAssistant
	}
	return asst, nil
}

func (o *Orchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	lock, _ := o.locks.GetOrSet(id.String(), &sync.Mutex{})
	return lock
}

func (o *Orchestrator) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) fail(ctx context.Context, out chan<- Event, err error) {
	o.send(ctx, out, Error{Timestamp: strfmt.DateTime(time.Now()), Message: err.Error()})
}

// titleFrom derives a conversation title from the opening message.
func titleFrom(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > titleRunes {
		title = string(runes[:titleRunes])
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

// featuresFrom splits feature toggles out of an assistant's extra params.
// The remainder passes through to the provider request untouched.
func featuresFrom(extra map[string]any) (provider.FeatureSet, map[string]any) {
	features := provider.NewFeatureSet()
	if len(extra) == 0 {
		return features, nil
	}
	params := make(map[string]any, len(extra))
	for key, value := range extra {
		switch key {
		case string(provider.FeatureWebSearch):
			if enabled, ok := value.(bool); ok && enabled {
				features[provider.FeatureWebSearch] = struct{}{}
			}
		case string(provider.FeatureReasoning):
			if enabled, ok := value.(bool); ok && enabled {
				features[provider.FeatureReasoning] = struct{}{}
			}
		default:
			params[key] = value
		}
	}
	return features, params
}
