// Package faichat is a streaming conversation engine for LLM-backed
// assistants. It normalizes the streaming wire formats of several model
// providers into one delta model, reconstructs tool calls that arrive
// fragmented across chunks, optionally grounds replies in passages
// retrieved from a vector index and graded by a scoring model, folds the
// stream into a persisted conversation as it arrives, and exposes each
// turn as a cancellable push-event stream.
//
// The packages compose bottom-up:
//
//   - messages: the shared Message and Delta model
//   - provider: backend adapters normalizing provider streams
//   - completions: one completion turn, feature negotiation, tool dispatch
//   - retrieval: concurrent passage scoring and ranking
//   - store: conversation persistence (sqlite or in-memory)
//   - chat: the orchestrator and the role-boundary merge
//   - stream: push-event framing with terminal-event guarantees
//
// cmd/fai-chat wires the whole engine behind an HTTP server.
package faichat
