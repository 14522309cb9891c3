package stream

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nats-io/nats.go"
)

// Writer delivers one named push event to a client. Implementations must
// tolerate being called after the client is gone; Pump relies on the
// terminal write being attempted on every exit path.
type Writer interface {
	WriteEvent(name string, data []byte) error
}

// SSEWriter frames events as server-sent events over an HTTP response.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) WriteEvent(name string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
		return err
	}
	// a payload with embedded newlines becomes one data line per segment
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// MultiWriter fans each event out to every writer. Later writers still
// receive the event when an earlier one fails; the first error is
// returned.
func MultiWriter(writers ...Writer) Writer { return multiWriter(writers) }

type multiWriter []Writer

func (m multiWriter) WriteEvent(name string, data []byte) error {
	var first error
	for _, w := range m {
		if err := w.WriteEvent(name, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NATSWriter publishes events as messages on the event name's subject,
// optionally below a prefix so several chats can share one connection.
type NATSWriter struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSWriter(conn *nats.Conn, prefix string) *NATSWriter {
	return &NATSWriter{conn: conn, prefix: prefix}
}

func (n *NATSWriter) WriteEvent(name string, data []byte) error {
	subject := name
	if n.prefix != "" {
		subject = n.prefix + "." + name
	}
	return n.conn.Publish(subject, data)
}
