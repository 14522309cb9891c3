package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/helsingborg-stad/fai-chat/chat"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
)

type recordedEvent struct {
	name string
	data string
}

type recordingWriter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingWriter) WriteEvent(name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, data: string(data)})
	return nil
}

func (r *recordingWriter) recorded() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recordingWriter) count(name string) int {
	var n int
	for _, ev := range r.recorded() {
		if ev.name == name {
			n++
		}
	}
	return n
}

func TestPump_OrderAndTerminal(t *testing.T) {
	id := uuidx.New()
	events := make(chan chat.Event, 4)
	events <- chat.ConversationID{ID: id}
	events <- chat.Message{Timestamp: strfmt.DateTime(time.Now()), Source: "assistant", Content: "Hel"}
	events <- chat.Message{Timestamp: strfmt.DateTime(time.Now()), Source: "assistant", Content: "lo"}
	close(events)

	w := &recordingWriter{}
	require.NoError(t, Pump(context.Background(), events, w))

	got := w.recorded()
	require.Len(t, got, 4)
	assert.Equal(t, EventConversationID, got[0].name)
	assert.Equal(t, id.String(), got[0].data)
	assert.Equal(t, EventMessage, got[1].name)
	assert.Equal(t, "Hel", gjson.Get(got[1].data, "message").String())
	assert.Equal(t, EventMessage, got[2].name)
	assert.Equal(t, EventMessageEnd, got[3].name)
	assert.True(t, gjson.Get(got[3].data, "timestamp").Exists())
}

func TestPump_ErrorEvent(t *testing.T) {
	events := make(chan chat.Event, 2)
	events <- chat.Error{Timestamp: strfmt.DateTime(time.Now()), Message: "invalid assistant"}
	close(events)

	w := &recordingWriter{}
	require.NoError(t, Pump(context.Background(), events, w))

	got := w.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, EventError, got[0].name)
	assert.Equal(t, "error", gjson.Get(got[0].data, "source").String())
	assert.Equal(t, "invalid assistant", gjson.Get(got[0].data, "message").String())
	assert.Equal(t, EventMessageEnd, got[1].name)
}

func TestPump_CancellationStillTerminates(t *testing.T) {
	// the source never closes; only cancellation can end the pump
	events := make(chan chat.Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &recordingWriter{}
	err := Pump(ctx, events, w)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, w.count(EventMessageEnd))
}

func TestPump_TerminalEventIsExactlyOne(t *testing.T) {
	events := make(chan chat.Event, 1)
	events <- chat.Message{Timestamp: strfmt.DateTime(time.Now()), Source: "assistant", Content: "x"}
	close(events)

	w := &recordingWriter{}
	require.NoError(t, Pump(context.Background(), events, w))
	assert.Equal(t, 1, w.count(EventMessageEnd))
}

func TestSSEWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	require.NoError(t, w.WriteEvent(EventMessage, []byte(`{"message":"hi"}`)))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Equal(t, "event: chat.message\ndata: {\"message\":\"hi\"}\n\n", body)
}

func TestSSEWriter_MultilineData(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	require.NoError(t, w.WriteEvent(EventMessage, []byte("line one\nline two")))

	lines := strings.Split(rec.Body.String(), "\n")
	assert.Equal(t, "data: line one", lines[1])
	assert.Equal(t, "data: line two", lines[2])
}
