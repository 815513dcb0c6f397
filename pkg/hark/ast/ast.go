// Package ast defines the program tree handed to the compiler.
//
// The tree is produced by an external parser/checker (or built directly by an
// embedding program). The compiler consumes it; nothing in this package
// depends on the rest of the runtime except the value model.
package ast

import "github.com/hark-lang/hark/pkg/hark/vals"

// Node is an expression node. The concrete types are Literal, Var, Let, If,
// Call, AsyncCall, Await and Primitive.
type Node interface{ node() }

// Literal evaluates to a constant value.
type Literal struct {
	Value vals.Value
}

// Var references a bound name, falling back to the function symbol table for
// top-level function and import references.
type Var struct {
	Name string
}

// Let binds the value of Init to Name for the duration of Body. The binding
// is scoped to the enclosing function frame.
type Let struct {
	Name string
	Init Node
	Body Node
}

// If evaluates Then or Else depending on the truthiness of Cond.
type If struct {
	Cond Node
	Then Node
	Else Node
}

// Call applies Target to Args. Arguments evaluate left to right, then the
// target.
type Call struct {
	Target Node
	Args   []Node
}

// AsyncCall applies Target to Args on a fresh thread and evaluates to a
// future for the result.
type AsyncCall struct {
	Target Node
	Args   []Node
}

// Await evaluates Expr and, if the result is a future, blocks until it
// resolves.
type Await struct {
	Expr Node
}

// Primitive applies a named primitive operation to Args. The known operation
// names are listed in the compiler.
type Primitive struct {
	Op   string
	Args []Node
}

func (Literal) node()   {}
func (Var) node()       {}
func (Let) node()       {}
func (If) node()        {}
func (Call) node()      {}
func (AsyncCall) node() {}
func (Await) node()     {}
func (Primitive) node() {}

// Import registers a foreign binding: Name becomes callable and resolves to
// the host procedure identified by Target with the given arity.
type Import struct {
	Name   string
	Target string
	Arity  int
}

// Func is a top-level function definition.
type Func struct {
	Name   string
	Params []string
	Body   Node
}

// Program is a checked program tree: imports plus an ordered list of
// function definitions.
type Program struct {
	Imports []Import
	Funcs   []Func
}
