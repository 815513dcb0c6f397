// Package harktest provides helpers for testing the runtime: concise program
// tree builders, a deterministic test foreign, and a scenario suite that can
// run against any controller implementation.
package harktest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/foreign"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/sched"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/testutil"
)

// Tree builders.

// Lit builds a literal node.
func Lit(v vals.Value) ast.Node { return ast.Literal{Value: v} }

// Int builds an integer literal node.
func Int(i int64) ast.Node { return Lit(vals.Int(i)) }

// V builds a variable reference.
func V(name string) ast.Node { return ast.Var{Name: name} }

// Let builds a let binding.
func Let(name string, init, body ast.Node) ast.Node {
	return ast.Let{Name: name, Init: init, Body: body}
}

// If builds a conditional.
func If(cond, then, els ast.Node) ast.Node {
	return ast.If{Cond: cond, Then: then, Else: els}
}

// Call builds a call of a named function.
func Call(fn string, args ...ast.Node) ast.Node {
	return ast.Call{Target: V(fn), Args: args}
}

// Async builds an asynchronous call of a named function.
func Async(fn string, args ...ast.Node) ast.Node {
	return ast.AsyncCall{Target: V(fn), Args: args}
}

// Await builds an await.
func Await(expr ast.Node) ast.Node { return ast.Await{Expr: expr} }

// Prim builds a primitive application.
func Prim(op string, args ...ast.Node) ast.Node {
	return ast.Primitive{Op: op, Args: args}
}

// Add, Sub, Mul and Div build arithmetic primitives.
func Add(a, b ast.Node) ast.Node { return Prim("add", a, b) }
func Sub(a, b ast.Node) ast.Node { return Prim("sub", a, b) }
func Mul(a, b ast.Node) ast.Node { return Prim("mul", a, b) }
func Div(a, b ast.Node) ast.Node { return Prim("div", a, b) }

// Fn builds a function definition.
func Fn(name string, params []string, body ast.Node) ast.Func {
	return ast.Func{Name: name, Params: params, Body: body}
}

// Prog builds a program from function definitions.
func Prog(fns ...ast.Func) *ast.Program { return &ast.Program{Funcs: fns} }

// ProgWithImports builds a program with foreign imports.
func ProgWithImports(imports []ast.Import, fns ...ast.Func) *ast.Program {
	return &ast.Program{Imports: imports, Funcs: fns}
}

// RSImport binds rs to the deterministic test foreign registered by
// NewRegistry.
var RSImport = ast.Import{Name: "rs", Target: "test/rs", Arity: 2}

// NewRegistry builds a registry with the deterministic test foreign: rs
// ignores its arguments and returns 0 immediately.
func NewRegistry() *foreign.Registry {
	reg := foreign.NewRegistry(testutil.Scaled(5 * time.Second))
	reg.Register("test/rs", 2, func(foreign.Call) (vals.Value, error) {
		return vals.Int(0), nil
	})
	return reg
}

// Result is the outcome of running a program under RunProgram.
type Result struct {
	Value  vals.Value
	Err    *machine.Error
	Output string
}

// RunOpts tweaks RunProgram.
type RunOpts struct {
	Workers  int
	Registry *foreign.Registry
	Entry    string
}

// RunProgram compiles a program, seeds the controller, and runs the entry
// function to completion with a worker pool. Infrastructure failures fail the
// test; program errors are returned in the result.
func RunProgram(t *testing.T, c ctrl.Controller, p *ast.Program, opts RunOpts) Result {
	t.Helper()
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Entry == "" {
		opts.Entry = "main"
	}

	model, err := compile.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed code: %v", err)
	}
	s, err := sched.New(c, opts.Registry, sched.Config{
		Workers:      opts.Workers,
		PollInterval: sched.Duration(time.Millisecond),
	}, nil)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		testutil.Scaled(30*time.Second))
	defer cancel()
	value, runErr := s.Run(ctx, opts.Entry, nil)

	var res Result
	res.Value = value
	if runErr != nil {
		var perr *machine.Error
		if !errors.As(runErr, &perr) {
			t.Fatalf("run: %v", runErr)
		}
		res.Err = perr
	}

	entries, err := s.Outputs()
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Text)
	}
	res.Output = sb.String()
	return res
}
