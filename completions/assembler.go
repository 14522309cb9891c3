package completions

import "github.com/helsingborg-stad/fai-chat/messages"

// assembler reconstructs one tool call from stream fragments. A fragment
// may set the call id, the function name, and/or append to the argument
// string, in any order and any number of times. Only the first call per
// stream is tracked: a second distinct call id stops absorption entirely
// rather than risk interleaving a later call's argument fragments into the
// pending one.
type assembler struct {
	pending  messages.ToolCall
	sawCall  bool
	ignoring bool
}

// absorb folds a batch of fragments into the pending call. It returns the
// function name the first time one arrives, which is the signal to
// announce the call to the caller.
func (a *assembler) absorb(frags []messages.ToolCall) (announce string) {
	for _, frag := range frags {
		if a.ignoring {
			return
		}
		if frag.ID != "" {
			if !a.sawCall {
				a.pending.ID = frag.ID
			} else if frag.ID != a.pending.ID {
				a.ignoring = true
				return
			}
		}
		a.sawCall = true

		if frag.Name != "" {
			if a.pending.Name == "" {
				announce = frag.Name
			}
			a.pending.Name = frag.Name
		}
		a.pending.Arguments += frag.Arguments
	}
	return
}

// call returns the assembled tool call and whether it is dispatchable.
// The argument string is only trusted once the stream has ended, which is
// the only time callers should ask.
func (a *assembler) call() (messages.ToolCall, bool) {
	return a.pending, a.sawCall && a.pending.Complete()
}

// snapshot is the current accumulated state, for merging into the
// conversation tail while fragments are still arriving.
func (a *assembler) snapshot() messages.ToolCall {
	return a.pending
}
