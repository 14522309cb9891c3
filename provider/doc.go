// Package provider abstracts the LLM backends behind one normalized
// streaming contract.
//
// Each backend lives in its own subpackage (openai, anthropic) and is
// selected through a typed Kind plus a registry-backed factory; backends
// register themselves from init so linking an adapter package is all it
// takes to enable it. Credentials are handed to the factory per call site,
// never read from ambient process state.
//
// Adapters translate their SDK's native chunk shapes into messages.Delta
// values. Tool-call fragments pass through with whatever subset of
// id/name/arguments the backend sent; reconstruction into a complete
// ToolCall happens one layer up in the completions service, which is the
// only place that knows when a call is final.
//
// Error model: a request the backend rejects outright (bad request,
// policy) is surfaced as a single role="error" delta followed by channel
// close. It is never returned as a Go error once streaming has begun, so
// downstream consumers see exactly one shutdown path.
package provider
