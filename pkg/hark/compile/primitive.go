package compile

import (
	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
)

// primitives maps primitive names to ops and fixed arities. An arity of -1
// marks the variadic constructors, which carry their count in the
// instruction.
var primitives = map[string]struct {
	op    code.Op
	arity int
}{
	"add": {code.Add, 2},
	"sub": {code.Sub, 2},
	"mul": {code.Mul, 2},
	"div": {code.Div, 2},
	"neg": {code.Neg, 1},
	"eq":  {code.Eq, 2},
	"lt":  {code.Lt, 2},
	"gt":  {code.Gt, 2},
	"and": {code.And, 2},
	"or":  {code.Or, 2},
	"not": {code.Not, 1},

	"list":        {code.ListNew, -1},
	"list-get":    {code.ListGet, 2},
	"list-cat":    {code.ListCat, 2},
	"list-cons":   {code.ListCons, 2},
	"list-append": {code.ListAppend, 2},
	"first":       {code.ListFirst, 1},
	"rest":        {code.ListRest, 1},
	"len":         {code.ListLen, 1},
	"atomp":       {code.Atomp, 1},
	"nullp":       {code.Nullp, 1},

	"record":     {code.RecordNew, -1},
	"record-get": {code.RecordGet, 2},

	"print": {code.Print, 1},
	"sleep": {code.Sleep, 1},
}

func (cp *compiler) compilePrimitive(n ast.Primitive) error {
	prim, ok := primitives[n.Op]
	if !ok {
		return machine.Errorf(machine.MalformedCode, "unknown primitive %q", n.Op)
	}
	if prim.arity >= 0 && len(n.Args) != prim.arity {
		return machine.Errorf(machine.MalformedCode,
			"primitive %s wants %d arguments, got %d", n.Op, prim.arity, len(n.Args))
	}
	if prim.op == code.RecordNew {
		if len(n.Args)%2 != 0 {
			return machine.Errorf(machine.MalformedCode,
				"record wants key-value pairs, got %d arguments", len(n.Args))
		}
	}
	for _, arg := range n.Args {
		if err := cp.compileNode(arg); err != nil {
			return err
		}
	}
	instr := code.Instr{Op: prim.op}
	switch prim.op {
	case code.ListNew:
		instr.Num = len(n.Args)
	case code.RecordNew:
		instr.Num = len(n.Args) / 2
	}
	cp.emit(instr)
	return nil
}
