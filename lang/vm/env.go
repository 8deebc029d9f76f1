package vm

import "github.com/dolthub/swiss"

// Value is a runtime value: either int64 or string, the language's only two
// scalar types.
type Value = any

// binding is a boxed variable slot. It is shared by pointer between a
// frame and every function frame that captures the name, so a STORE
// through either sees the other's write without a separate "is this boxed"
// check at every access.
type binding struct {
	value Value
	mut   bool
}

// Frame is one call frame's bindings, keyed by variable name. The toplevel
// program runs in a single persistent Frame; CALL pushes a fresh one.
type Frame struct {
	vars *swiss.Map[string, *binding]
}

func newFrame() *Frame {
	return &Frame{vars: swiss.NewMap[string, *binding](8)}
}

// define creates a new binding, shadowing any binding of the same name
// already in this frame.
func (f *Frame) define(name string, v Value, mut bool) {
	f.vars.Put(name, &binding{value: v, mut: mut})
}

// bind installs an existing binding under name, used to share a captured
// variable's box between the calling frame and the callee's frame.
func (f *Frame) bind(name string, b *binding) {
	f.vars.Put(name, b)
}

func (f *Frame) lookup(name string) (*binding, bool) {
	return f.vars.Get(name)
}

// view returns a snapshot of the frame's bindings with their boxes
// unwrapped to plain values, for the trace log's env_view.
func (f *Frame) view() map[string]Value {
	out := make(map[string]Value)
	f.vars.Iter(func(k string, b *binding) bool {
		out[k] = b.value
		return false
	})
	return out
}
