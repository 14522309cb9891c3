// Package messages defines the shared data model of the chat engine: the
// persisted Message, the ephemeral streaming Delta, and the ToolCall that
// is reconstructed from fragments while a provider stream is live.
//
// Design decisions:
//   - One message type with optional fields rather than a type per role.
//     The merger decides message boundaries purely on role transitions, so
//     a closed union buys nothing here and would complicate persistence.
//   - Deltas are write-once values. They are folded into the conversation
//     tail by the merger and never stored themselves.
//   - Tool-call arguments stay a raw string until the stream ends; the
//     fragments that build them are not individually valid JSON.
package messages
