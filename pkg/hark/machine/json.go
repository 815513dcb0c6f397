package machine

import (
	"encoding/json"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Stacks and bindings hold interface values, which encoding/json cannot
// decode on its own; both sides of the wire go through the vals codec.

// MarshalJSON encodes each stack element with the vals codec.
func (s Stack) MarshalJSON() ([]byte, error) {
	boxed := make([]vals.Box, len(s))
	for i, v := range s {
		boxed[i] = vals.Box{V: v}
	}
	return json.Marshal(boxed)
}

// UnmarshalJSON decodes a stack encoded by MarshalJSON.
func (s *Stack) UnmarshalJSON(data []byte) error {
	var boxed []vals.Box
	if err := json.Unmarshal(data, &boxed); err != nil {
		return err
	}
	if boxed == nil {
		*s = nil
		return nil
	}
	out := make(Stack, len(boxed))
	for i, b := range boxed {
		out[i] = b.V
	}
	*s = out
	return nil
}

// MarshalJSON encodes each binding with the vals codec.
func (b Bindings) MarshalJSON() ([]byte, error) {
	boxed := make(map[string]vals.Box, len(b))
	for k, v := range b {
		boxed[k] = vals.Box{V: v}
	}
	return json.Marshal(boxed)
}

// UnmarshalJSON decodes bindings encoded by MarshalJSON.
func (b *Bindings) UnmarshalJSON(data []byte) error {
	var boxed map[string]vals.Box
	if err := json.Unmarshal(data, &boxed); err != nil {
		return err
	}
	if boxed == nil {
		*b = nil
		return nil
	}
	out := make(Bindings, len(boxed))
	for k, box := range boxed {
		out[k] = box.V
	}
	*b = out
	return nil
}
