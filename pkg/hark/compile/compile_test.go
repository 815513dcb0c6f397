package compile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

func lit(i int64) ast.Node   { return ast.Literal{Value: vals.Int(i)} }
func v(name string) ast.Node { return ast.Var{Name: name} }
func prim(op string, args ...ast.Node) ast.Node {
	return ast.Primitive{Op: op, Args: args}
}

func mustCompile(t *testing.T, p *ast.Program) *code.Model {
	t.Helper()
	m, err := Compile(p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return m
}

func disasm(m *code.Model) []string {
	out := make([]string, len(m.Instrs))
	for i, instr := range m.Instrs {
		out[i] = instr.String()
	}
	return out
}

func wantInstrs(t *testing.T, m *code.Model, want []string) {
	t.Helper()
	if diff := cmp.Diff(want, disasm(m)); diff != "" {
		t.Errorf("instructions (-want +got):\n%s", diff)
	}
}

func TestCompileArithmetic(t *testing.T) {
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: prim("add", lit(1), lit(2))},
	}})
	wantInstrs(t, m, []string{"pushl 1", "pushl 2", "add", "return"})
	info := m.Funcs["main"]
	if info.Entry != 0 || info.Arity != 0 {
		t.Errorf("main = %+v, want entry 0 arity 0", info)
	}
}

func TestCompileLet(t *testing.T) {
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: ast.Let{Name: "x", Init: lit(5),
			Body: prim("add", v("x"), lit(1))}},
	}})
	wantInstrs(t, m, []string{
		"pushl 5", "bind x", "pushv x", "pushl 1", "add", "return",
	})
}

func TestCompileCallEvaluationOrder(t *testing.T) {
	// Arguments compile left to right, then the target, then the call.
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "f", Params: []string{"a", "b"}, Body: v("a")},
		{Name: "main", Body: ast.Call{Target: v("f"), Args: []ast.Node{lit(1), lit(2)}}},
	}})
	wantInstrs(t, m, []string{
		// f
		"pushv a", "return",
		// main
		"pushl 1", "pushl 2", "pushv f", "call 2", "return",
	})
	if m.Funcs["main"].Entry != 2 {
		t.Errorf("main entry = %d, want 2", m.Funcs["main"].Entry)
	}
}

func TestCompileIf(t *testing.T) {
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: ast.If{
			Cond: ast.Literal{Value: vals.Bool(true)},
			Then: lit(1),
			Else: lit(2),
		}},
	}})
	wantInstrs(t, m, []string{
		"pushl true", "jumpifnot 2", "pushl 1", "jump 1", "pushl 2", "return",
	})
}

func TestCompileAsyncAwait(t *testing.T) {
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "b", Params: []string{"x"}, Body: v("x")},
		{Name: "main", Body: ast.Let{
			Name: "p",
			Init: ast.AsyncCall{Target: v("b"), Args: []ast.Node{lit(5)}},
			Body: ast.Await{Expr: v("p")},
		}},
	}})
	wantInstrs(t, m, []string{
		// b
		"pushv x", "return",
		// main
		"pushl 5", "pushv b", "acall 1", "bind p", "pushv p", "wait", "return",
	})
}

func TestCompileForeignCall(t *testing.T) {
	m := mustCompile(t, &ast.Program{
		Imports: []ast.Import{{Name: "rs", Target: "test/rs", Arity: 2}},
		Funcs: []ast.Func{
			{Name: "main", Body: ast.Call{Target: v("rs"),
				Args: []ast.Node{lit(1), lit(2)}}},
		},
	})
	wantInstrs(t, m, []string{
		"pushl 1", "pushl 2", "pushv rs", "callf 2", "return",
	})
	if got := m.Foreigns["rs"]; got != (code.ForeignInfo{Target: "test/rs", Arity: 2}) {
		t.Errorf("foreign rs = %+v", got)
	}
}

func TestCompileAsyncForeignRejected(t *testing.T) {
	_, err := Compile(&ast.Program{
		Imports: []ast.Import{{Name: "rs", Target: "test/rs", Arity: 2}},
		Funcs: []ast.Func{
			{Name: "main", Body: ast.AsyncCall{Target: v("rs"),
				Args: []ast.Node{lit(1), lit(2)}}},
		},
	})
	wantKind(t, err, machine.MalformedCode)
}

func TestCompileUnknownPrimitive(t *testing.T) {
	_, err := Compile(&ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: prim("frobnicate", lit(1))},
	}})
	wantKind(t, err, machine.MalformedCode)
}

func TestCompilePrimitiveArity(t *testing.T) {
	_, err := Compile(&ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: prim("add", lit(1))},
	}})
	wantKind(t, err, machine.MalformedCode)
}

func TestCompileRecordOddPairs(t *testing.T) {
	_, err := Compile(&ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: prim("record", ast.Literal{Value: vals.Sym("a")})},
	}})
	wantKind(t, err, machine.MalformedCode)
}

func TestCompileDuplicateFunction(t *testing.T) {
	_, err := Compile(&ast.Program{Funcs: []ast.Func{
		{Name: "main", Body: lit(1)},
		{Name: "main", Body: lit(2)},
	}})
	wantKind(t, err, machine.MalformedCode)
}

func TestCompileFreeNames(t *testing.T) {
	m := mustCompile(t, &ast.Program{Funcs: []ast.Func{
		{Name: "helper", Params: []string{"x"}, Body: v("x")},
		{Name: "main", Body: ast.Call{Target: v("helper"), Args: []ast.Node{lit(1)}}},
	}})
	free := m.Funcs["main"].Free
	if len(free) != 1 || free[0] != "helper" {
		t.Errorf("free = %v, want [helper]", free)
	}
	if len(m.Funcs["helper"].Free) != 0 {
		t.Errorf("helper free = %v, want none", m.Funcs["helper"].Free)
	}
}

func wantKind(t *testing.T, err error, kind machine.ErrorKind) {
	t.Helper()
	var perr *machine.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want a runtime error", err)
	}
	if perr.Kind != kind {
		t.Errorf("error kind = %s, want %s", perr.Kind, kind)
	}
}
