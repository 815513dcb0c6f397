package ast

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// The JSON form of a program tree, used by the CLI to read checked programs
// emitted by an external parser. Nodes are tagged by a "kind" field.

type wireNode struct {
	Kind   string            `json:"kind"`
	Value  *vals.Box         `json:"value,omitempty"`
	Name   string            `json:"name,omitempty"`
	Init   json.RawMessage   `json:"init,omitempty"`
	Body   json.RawMessage   `json:"body,omitempty"`
	Cond   json.RawMessage   `json:"cond,omitempty"`
	Then   json.RawMessage   `json:"then,omitempty"`
	Else   json.RawMessage   `json:"else,omitempty"`
	Target json.RawMessage   `json:"target,omitempty"`
	Expr   json.RawMessage   `json:"expr,omitempty"`
	Op     string            `json:"op,omitempty"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

type wireFunc struct {
	Name   string          `json:"name"`
	Params []string        `json:"params"`
	Body   json.RawMessage `json:"body"`
}

type wireProgram struct {
	Imports []Import   `json:"imports,omitempty"`
	Funcs   []wireFunc `json:"funcs"`
}

// DecodeProgram reads the JSON form of a program tree.
func DecodeProgram(r io.Reader) (*Program, error) {
	var w wireProgram
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}
	p := &Program{Imports: w.Imports}
	for _, f := range w.Funcs {
		body, err := decodeNode(f.Body)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		p.Funcs = append(p.Funcs, Func{Name: f.Name, Params: f.Params, Body: body})
	}
	return p, nil
}

func decodeNode(data json.RawMessage) (Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("missing node")
	}
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "literal":
		if w.Value == nil {
			return nil, fmt.Errorf("literal node without value")
		}
		return Literal{Value: w.Value.V}, nil
	case "var":
		return Var{Name: w.Name}, nil
	case "let":
		init, err := decodeNode(w.Init)
		if err != nil {
			return nil, err
		}
		body, err := decodeNode(w.Body)
		if err != nil {
			return nil, err
		}
		return Let{Name: w.Name, Init: init, Body: body}, nil
	case "if":
		cond, err := decodeNode(w.Cond)
		if err != nil {
			return nil, err
		}
		then, err := decodeNode(w.Then)
		if err != nil {
			return nil, err
		}
		els, err := decodeNode(w.Else)
		if err != nil {
			return nil, err
		}
		return If{Cond: cond, Then: then, Else: els}, nil
	case "call", "async":
		target, err := decodeNode(w.Target)
		if err != nil {
			return nil, err
		}
		args, err := decodeNodes(w.Args)
		if err != nil {
			return nil, err
		}
		if w.Kind == "async" {
			return AsyncCall{Target: target, Args: args}, nil
		}
		return Call{Target: target, Args: args}, nil
	case "await":
		expr, err := decodeNode(w.Expr)
		if err != nil {
			return nil, err
		}
		return Await{Expr: expr}, nil
	case "prim":
		args, err := decodeNodes(w.Args)
		if err != nil {
			return nil, err
		}
		return Primitive{Op: w.Op, Args: args}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", w.Kind)
	}
}

func decodeNodes(raw []json.RawMessage) ([]Node, error) {
	nodes := make([]Node, len(raw))
	for i, r := range raw {
		n, err := decodeNode(r)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}
