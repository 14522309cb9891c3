// Package completions turns one provider stream into the engine's delta
// sequence: it negotiates optional features against the model's actual
// capabilities, reassembles the tool call the stream fragments describe,
// announces it as soon as its name is known, and dispatches it into the
// tool registry once the stream ends.
//
// One pending tool call per stream is a deliberate constraint carried over
// from the system this engine replaces: simultaneous tool calls in a
// single turn are not supported, and fragments belonging to a second call
// are ignored outright.
package completions
