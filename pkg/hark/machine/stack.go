package machine

import "github.com/hark-lang/hark/pkg/hark/vals"

// Stack is an operand stack; the last element is the top.
type Stack []vals.Value

// Bindings maps names to values in a function frame.
type Bindings map[string]vals.Value

// Clone copies the stack. Values are immutable and shared.
func (s Stack) Clone() Stack {
	if s == nil {
		return nil
	}
	return append(Stack(nil), s...)
}

// Clone copies the bindings.
func (b Bindings) Clone() Bindings {
	if b == nil {
		return nil
	}
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
