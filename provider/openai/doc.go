// Package openai adapts the OpenAI chat completions API (and any
// OpenAI-compatible endpoint via a custom base URL) to the engine's
// normalized Delta stream.
//
// Chunk translation rules:
//   - text deltas map to assistant-role Deltas with Content set
//   - a reasoning_content field, emitted by OpenAI-compatible backends
//     that expose chain-of-thought, maps to ReasoningContent
//   - tool-call fragments pass through as-is; a single chunk may carry an
//     id, a name, an argument fragment, or any combination, and the
//     completions service reassembles them
//   - chunks with no choices (keep-alives, usage frames) are dropped
//
// A rejected request surfaces as one role="error" delta before the channel
// closes. Cancellation through the context closes the channel without a
// trailing error delta; the orchestrator's terminal-event guarantee lives
// a layer up.
package openai
