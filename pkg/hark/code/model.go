package code

import (
	"encoding/json"
	"strings"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// FuncInfo describes a compiled function: where its instruction block starts,
// its declared arity, the parameter names in binding order, and the free
// names it references (top-level functions and foreigns).
type FuncInfo struct {
	Name   string   `json:"name"`
	Entry  int      `json:"entry"`
	Arity  int      `json:"arity"`
	Params []string `json:"params"`
	Free   []string `json:"free,omitempty"`
}

// ForeignInfo describes an imported foreign binding: the qualified name of
// the host procedure and its arity.
type ForeignInfo struct {
	Target string `json:"target"`
	Arity  int    `json:"arity"`
}

// Model is an executable unit: an instruction stream plus symbol tables for
// functions and foreign imports. A model is immutable after seeding into a
// controller.
type Model struct {
	Instrs   []Instr
	Funcs    map[string]FuncInfo
	Foreigns map[string]ForeignInfo
}

// Func looks up a function by name.
func (m *Model) Func(name string) (FuncInfo, bool) {
	f, ok := m.Funcs[name]
	return f, ok
}

// Foreign looks up a foreign import by its bound name.
func (m *Model) Foreign(name string) (ForeignInfo, bool) {
	f, ok := m.Foreigns[name]
	return f, ok
}

// Listing returns a multi-line disassembly of the whole model, with function
// entry points labelled. Used by diagnostic traces.
func (m *Model) Listing() string {
	entries := make(map[int]string)
	for name, f := range m.Funcs {
		entries[f.Entry] = name
	}
	var sb strings.Builder
	for i, instr := range m.Instrs {
		if name, ok := entries[i]; ok {
			sb.WriteString(name + ":\n")
		}
		sb.WriteString("  " + instr.String() + "\n")
	}
	return sb.String()
}

type wireInstr struct {
	Op  Op        `json:"op"`
	Sym string    `json:"sym,omitempty"`
	Val *vals.Box `json:"val,omitempty"`
	Num int       `json:"num,omitempty"`
}

// MarshalJSON encodes the instruction, boxing the literal operand.
func (i Instr) MarshalJSON() ([]byte, error) {
	w := wireInstr{Op: i.Op, Sym: i.Sym, Num: i.Num}
	if i.Val != nil {
		w.Val = &vals.Box{V: i.Val}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an instruction encoded by MarshalJSON.
func (i *Instr) UnmarshalJSON(data []byte) error {
	var w wireInstr
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	i.Op, i.Sym, i.Num = w.Op, w.Sym, w.Num
	i.Val = nil
	if w.Val != nil {
		i.Val = w.Val.V
	}
	return nil
}

type wireModel struct {
	Instrs   []Instr                `json:"instrs"`
	Funcs    map[string]FuncInfo    `json:"funcs"`
	Foreigns map[string]ForeignInfo `json:"foreigns,omitempty"`
}

// MarshalJSON encodes the model for seeding into a remote controller.
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireModel{m.Instrs, m.Funcs, m.Foreigns})
}

// UnmarshalJSON decodes a model encoded by MarshalJSON.
func (m *Model) UnmarshalJSON(data []byte) error {
	var w wireModel
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Instrs, m.Funcs, m.Foreigns = w.Instrs, w.Funcs, w.Foreigns
	if m.Funcs == nil {
		m.Funcs = make(map[string]FuncInfo)
	}
	if m.Foreigns == nil {
		m.Foreigns = make(map[string]ForeignInfo)
	}
	return nil
}
