package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helsingborg-stad/fai-chat/assistant"
	"github.com/helsingborg-stad/fai-chat/completions"
	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
	"github.com/helsingborg-stad/fai-chat/provider"
	"github.com/helsingborg-stad/fai-chat/retrieval"
	"github.com/helsingborg-stad/fai-chat/store"
)

type stubLookup map[string]*assistant.Assistant

func (l stubLookup) Get(_ context.Context, _, id string) (*assistant.Assistant, error) {
	return l[id], nil
}

// scriptedAdapter replays a fixed delta sequence and records every request
// it sees. Complete answers scoring calls with a fixed grade.
type scriptedAdapter struct {
	mu       sync.Mutex
	deltas   []messages.Delta
	score    string
	requests []provider.Request
}

func (a *scriptedAdapter) Stream(ctx context.Context, req provider.Request) (<-chan messages.Delta, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	out := make(chan messages.Delta, len(a.deltas))
	go func() {
		defer close(out)
		for _, d := range a.deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a *scriptedAdapter) Complete(_ context.Context, req provider.Request) (string, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return a.score, nil
}

func (a *scriptedAdapter) seen() []provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]provider.Request(nil), a.requests...)
}

type stubIndex struct {
	passages []retrieval.Passage
}

func (i *stubIndex) Query(context.Context, string, string, int) ([]retrieval.Passage, error) {
	return i.passages, nil
}

func newTestOrchestrator(t *testing.T, adapter *scriptedAdapter, lookup stubLookup, options ...Option) (*Orchestrator, store.Store) {
	t.Helper()
	s := store.NewMemory()
	factory := func(provider.Kind, provider.Credentials) (provider.Adapter, error) {
		return adapter, nil
	}
	svc, err := completions.New(completions.WithAdapters(factory))
	require.NoError(t, err)

	options = append(options, WithAdapters(factory))
	o, err := New(lookup, s, svc, options...)
	require.NoError(t, err)
	return o, s
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not close")
		}
	}
}

func TestOrchestrator_StartNewChat(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []messages.Delta{
		{Role: messages.RoleAssistant, Content: "Hel"},
		{Role: messages.RoleAssistant, Content: "lo!"},
	}}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o", Instructions: "be brief"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	events := collect(t, o.StartNewChat(context.Background(), "user-1", "helper", "Hello"))
	require.GreaterOrEqual(t, len(events), 2)

	first, ok := events[0].(ConversationID)
	require.True(t, ok, "first event must announce the conversation id")

	var reply strings.Builder
	for _, ev := range events[1:] {
		msg, ok := ev.(Message)
		require.True(t, ok, "unexpected event %T", ev)
		assert.Equal(t, "assistant", msg.Source)
		reply.WriteString(msg.Content)
	}
	assert.Equal(t, "Hello!", reply.String())

	conv, err := s.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, messages.RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, "be brief", conv.Messages[0].Content)
	assert.Equal(t, messages.RoleUser, conv.Messages[1].Role)
	assert.Equal(t, "Hello", conv.Messages[1].Content)
	assert.Equal(t, messages.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, "Hello!", conv.Messages[2].Content)
	assert.Equal(t, "Hello", conv.Title)
}

func TestOrchestrator_StartNewChat_InvalidAssistant(t *testing.T) {
	adapter := &scriptedAdapter{}
	o, _ := newTestOrchestrator(t, adapter, stubLookup{})

	events := collect(t, o.StartNewChat(context.Background(), "user-1", "missing", "hi"))
	require.Len(t, events, 1)
	errEvent, ok := events[0].(Error)
	require.True(t, ok)
	assert.Equal(t, "invalid assistant", errEvent.Message)
	assert.Empty(t, adapter.seen())
}

func TestOrchestrator_ContinueChat(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []messages.Delta{
		{Role: messages.RoleAssistant, Content: "again"},
	}}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)

	events := collect(t, o.ContinueChat(context.Background(), "user-1", conv.ID, "more please", uuid.Nil))
	for _, ev := range events {
		_, isErr := ev.(Error)
		require.False(t, isErr, "unexpected error event: %+v", ev)
	}

	got, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, messages.RoleUser, got.Messages[0].Role)
	assert.Equal(t, messages.RoleAssistant, got.Messages[1].Role)
}

func TestOrchestrator_ContinueChat_UnknownConversation(t *testing.T) {
	adapter := &scriptedAdapter{}
	o, _ := newTestOrchestrator(t, adapter, stubLookup{})

	events := collect(t, o.ContinueChat(context.Background(), "user-1", uuidx.New(), "hi", uuid.Nil))
	require.Len(t, events, 1)
	errEvent, ok := events[0].(Error)
	require.True(t, ok)
	assert.Equal(t, "invalid conversation", errEvent.Message)
}

func TestOrchestrator_ContinueChat_WrongOwner(t *testing.T) {
	adapter := &scriptedAdapter{}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	conv, err := s.Create(context.Background(), "owner", "helper", "t")
	require.NoError(t, err)

	events := collect(t, o.ContinueChat(context.Background(), "intruder", conv.ID, "hi", uuid.Nil))
	require.Len(t, events, 1)
	_, ok := events[0].(Error)
	require.True(t, ok)
	assert.Empty(t, adapter.seen())
}

func TestOrchestrator_ContinueChat_InvalidRestartPoint(t *testing.T) {
	adapter := &scriptedAdapter{}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(context.Background(), conv.ID, messages.Message{
		ID: uuidx.New(), Role: messages.RoleUser, Content: "existing",
	}))

	events := collect(t, o.ContinueChat(context.Background(), "user-1", conv.ID, "redo", uuidx.New()))
	require.Len(t, events, 1)
	errEvent, ok := events[0].(Error)
	require.True(t, ok)
	assert.Equal(t, "invalid restart point", errEvent.Message)

	got, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "existing", got.Messages[0].Content)
	assert.Empty(t, adapter.seen())
}

func TestOrchestrator_ErrorDeltaTerminates(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []messages.Delta{
		{Role: messages.RoleAssistant, Content: "part"},
		{Role: messages.RoleError, Content: "model refused the request"},
		{Role: messages.RoleAssistant, Content: "never seen"},
	}}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)

	events := collect(t, o.ContinueChat(context.Background(), "user-1", conv.ID, "go", uuid.Nil))
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(Error)
	require.True(t, ok, "stream must end on the error event")
	assert.Equal(t, "model refused the request", last.Message)

	// the partial content before the failure is kept
	got, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	tail, ok := got.Tail()
	require.True(t, ok)
	assert.Equal(t, "part", tail.Content)
}

func TestOrchestrator_GroundedAssistant(t *testing.T) {
	adapter := &scriptedAdapter{
		deltas: []messages.Delta{{Role: messages.RoleAssistant, Content: "grounded answer"}},
		score:  `{"score": 90}`,
	}
	lookup := stubLookup{
		"helper": {
			ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o",
			CollectionID: "docs", MaxCollectionResults: 3,
		},
		"grader": {ID: "grader", Provider: provider.KindOpenAI, Model: "gpt-4o-mini"},
	}

	index := &stubIndex{passages: []retrieval.Passage{{Content: "the moon is made of rock", Source: "astro.md"}}}
	scorer, err := retrieval.New(retrieval.WithIndex(index))
	require.NoError(t, err)

	o, s := newTestOrchestrator(t, adapter, lookup,
		WithScorer(scorer), WithScoringAssistant("grader"))

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)

	events := collect(t, o.ContinueChat(context.Background(), "user-1", conv.ID, "what is the moon?", uuid.Nil))
	for _, ev := range events {
		_, isErr := ev.(Error)
		require.False(t, isErr, "unexpected error event: %+v", ev)
	}

	requests := adapter.seen()
	require.NotEmpty(t, requests)
	main := requests[len(requests)-1]
	var sawContext bool
	for _, msg := range main.Messages {
		if strings.Contains(msg.Content, "the moon is made of rock") {
			sawContext = true
			assert.Equal(t, messages.RoleUser, msg.Role)
		}
	}
	assert.True(t, sawContext, "completion request must carry the retrieved context")

	// the context message rides with the request, not the conversation
	got, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
}

func TestOrchestrator_GroundedAssistant_NoScoringAssistant(t *testing.T) {
	adapter := &scriptedAdapter{score: `{"score": 90}`}
	lookup := stubLookup{
		"helper": {
			ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o",
			CollectionID: "docs", MaxCollectionResults: 3,
		},
	}
	index := &stubIndex{}
	scorer, err := retrieval.New(retrieval.WithIndex(index))
	require.NoError(t, err)

	o, s := newTestOrchestrator(t, adapter, lookup,
		WithScorer(scorer), WithScoringAssistant("nowhere"))

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)

	events := collect(t, o.ContinueChat(context.Background(), "user-1", conv.ID, "query", uuid.Nil))
	require.NotEmpty(t, events)
	errEvent, ok := events[len(events)-1].(Error)
	require.True(t, ok)
	assert.Equal(t, "invalid scoring assistant", errEvent.Message)
}

func TestOrchestrator_SerializesSameConversation(t *testing.T) {
	adapter := &scriptedAdapter{deltas: []messages.Delta{
		{Role: messages.RoleAssistant, Content: "a"},
		{Role: messages.RoleAssistant, Content: "b"},
	}}
	lookup := stubLookup{"helper": {ID: "helper", Provider: provider.KindOpenAI, Model: "gpt-4o"}}
	o, s := newTestOrchestrator(t, adapter, lookup)

	conv, err := s.Create(context.Background(), "user-1", "helper", "t")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range o.ContinueChat(context.Background(), "user-1", conv.ID, "turn", uuid.Nil) {
			}
		}()
	}
	wg.Wait()

	// each turn appends one user message and one merged assistant message
	got, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 8)
	for i := 0; i < len(got.Messages); i += 2 {
		assert.Equal(t, messages.RoleUser, got.Messages[i].Role)
		assert.Equal(t, messages.RoleAssistant, got.Messages[i+1].Role)
		assert.Equal(t, "ab", got.Messages[i+1].Content)
	}
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "Hello there", titleFrom("  Hello\n there "))
	assert.Equal(t, "New conversation", titleFrom("   "))

	long := strings.Repeat("x", 80)
	assert.Equal(t, strings.Repeat("x", 60), titleFrom(long))
}
