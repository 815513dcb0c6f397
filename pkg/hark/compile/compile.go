// Package compile translates a checked program tree into a code model for
// the abstract machine.
package compile

import (
	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
)

// Compile translates a program tree. Every function compiles to a contiguous
// instruction block ending in Return; expressions compile in a stack
// discipline, preserving source evaluation order (left to right) because
// print and foreign calls are observable.
func Compile(p *ast.Program) (*code.Model, error) {
	cp := &compiler{
		funcs:    make(map[string]code.FuncInfo),
		foreigns: make(map[string]code.ForeignInfo),
	}
	for _, imp := range p.Imports {
		if imp.Name == "" || imp.Target == "" || imp.Arity < 0 {
			return nil, machine.Errorf(machine.MalformedCode,
				"bad import %q of %q", imp.Name, imp.Target)
		}
		cp.foreigns[imp.Name] = code.ForeignInfo{Target: imp.Target, Arity: imp.Arity}
	}
	// Record all function signatures first so bodies can reference functions
	// defined later in the source.
	for _, f := range p.Funcs {
		if _, ok := cp.funcs[f.Name]; ok {
			return nil, machine.Errorf(machine.MalformedCode,
				"function %s defined twice", f.Name)
		}
		cp.funcs[f.Name] = code.FuncInfo{
			Name: f.Name, Arity: len(f.Params), Params: f.Params,
		}
	}
	for _, f := range p.Funcs {
		if err := cp.compileFunc(f); err != nil {
			return nil, err
		}
	}
	return &code.Model{Instrs: cp.instrs, Funcs: cp.funcs, Foreigns: cp.foreigns}, nil
}

// compiler accumulates the instruction stream and the symbol tables while
// walking one program.
type compiler struct {
	instrs   []code.Instr
	funcs    map[string]code.FuncInfo
	foreigns map[string]code.ForeignInfo

	// Per-function state.
	bound    map[string]bool
	free     []string
	freeSeen map[string]bool
}

func (cp *compiler) compileFunc(f ast.Func) error {
	cp.bound = make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		cp.bound[p] = true
	}
	cp.free = nil
	cp.freeSeen = make(map[string]bool)

	entry := len(cp.instrs)
	if err := cp.compileNode(f.Body); err != nil {
		return err
	}
	cp.emit(code.Instr{Op: code.Return})

	info := cp.funcs[f.Name]
	info.Entry = entry
	info.Free = cp.free
	cp.funcs[f.Name] = info
	return nil
}

func (cp *compiler) compileNode(n ast.Node) error {
	switch n := n.(type) {
	case ast.Literal:
		cp.emit(code.Instr{Op: code.PushL, Val: n.Value})
	case ast.Var:
		if !cp.bound[n.Name] && !cp.freeSeen[n.Name] {
			cp.freeSeen[n.Name] = true
			cp.free = append(cp.free, n.Name)
		}
		cp.emit(code.Instr{Op: code.PushV, Sym: n.Name})
	case ast.Let:
		if err := cp.compileNode(n.Init); err != nil {
			return err
		}
		cp.emit(code.Instr{Op: code.Bind, Sym: n.Name})
		// Bindings are scoped to the enclosing function frame, not the let
		// body, so the name simply stays bound.
		cp.bound[n.Name] = true
		return cp.compileNode(n.Body)
	case ast.If:
		return cp.compileIf(n)
	case ast.Call:
		return cp.compileCall(n.Target, n.Args, false)
	case ast.AsyncCall:
		return cp.compileCall(n.Target, n.Args, true)
	case ast.Await:
		if err := cp.compileNode(n.Expr); err != nil {
			return err
		}
		cp.emit(code.Instr{Op: code.Wait})
	case ast.Primitive:
		return cp.compilePrimitive(n)
	case nil:
		return machine.Errorf(machine.MalformedCode, "missing expression")
	default:
		return machine.Errorf(machine.MalformedCode, "unknown node kind %T", n)
	}
	return nil
}

func (cp *compiler) compileIf(n ast.If) error {
	if err := cp.compileNode(n.Cond); err != nil {
		return err
	}
	jumpToElse := cp.emit(code.Instr{Op: code.JumpIfNot})
	if err := cp.compileNode(n.Then); err != nil {
		return err
	}
	jumpToEnd := cp.emit(code.Instr{Op: code.Jump})
	cp.patch(jumpToElse)
	if err := cp.compileNode(n.Else); err != nil {
		return err
	}
	cp.patch(jumpToEnd)
	return nil
}

func (cp *compiler) compileCall(target ast.Node, args []ast.Node, async bool) error {
	for _, arg := range args {
		if err := cp.compileNode(arg); err != nil {
			return err
		}
	}
	// A variable that names an import (and is not shadowed by a binding)
	// resolves to a foreign at run time; pick the call op accordingly.
	isForeign := false
	if v, ok := target.(ast.Var); ok && !cp.bound[v.Name] {
		_, isForeign = cp.foreigns[v.Name]
	}
	if async && isForeign {
		// Foreigns are synchronous; there is no thread to spawn for them.
		return machine.Errorf(machine.MalformedCode,
			"cannot call foreign %s asynchronously", target.(ast.Var).Name)
	}
	if err := cp.compileNode(target); err != nil {
		return err
	}
	op := code.Call
	switch {
	case async:
		op = code.ACall
	case isForeign:
		op = code.CallF
	}
	cp.emit(code.Instr{Op: op, Num: len(args)})
	return nil
}

// emit appends an instruction and returns its index.
func (cp *compiler) emit(i code.Instr) int {
	cp.instrs = append(cp.instrs, i)
	return len(cp.instrs) - 1
}

// patch sets the jump at index to land on the next emitted instruction.
// Offsets are relative to the instruction after the jump.
func (cp *compiler) patch(index int) {
	cp.instrs[index].Num = len(cp.instrs) - index - 1
}
