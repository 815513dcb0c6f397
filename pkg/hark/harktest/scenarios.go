package harktest

import (
	"testing"

	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// TestScenarios runs the end-to-end scenarios against a fresh controller per
// scenario. Both controller implementations must pass it unchanged.
func TestScenarios(t *testing.T, newCtrl func(t *testing.T) ctrl.Controller) {
	t.Run("Arithmetic", func(t *testing.T) {
		// fn main() { 1 + 2 }
		res := RunProgram(t, newCtrl(t),
			Prog(Fn("main", nil, Add(Int(1), Int(2)))), RunOpts{})
		wantValue(t, res, vals.Int(3))
	})

	t.Run("LetBinding", func(t *testing.T) {
		// fn main() { x = 5; x + 1 }
		res := RunProgram(t, newCtrl(t),
			Prog(Fn("main", nil, Let("x", Int(5), Add(V("x"), Int(1))))), RunOpts{})
		wantValue(t, res, vals.Int(6))
	})

	t.Run("FunctionCall", func(t *testing.T) {
		// fn a(x) { x + 1 }  fn main() { a(41) }
		res := RunProgram(t, newCtrl(t), Prog(
			Fn("a", []string{"x"}, Add(V("x"), Int(1))),
			Fn("main", nil, Call("a", Int(41))),
		), RunOpts{})
		wantValue(t, res, vals.Int(42))
	})

	t.Run("ForkJoin", func(t *testing.T) {
		// fn b(x) { x*1000 }  fn d(x) { x*10 }
		// fn m() { p = async b(5); q = async d(5); await p + await q }
		res := RunProgram(t, newCtrl(t), Prog(
			Fn("b", []string{"x"}, Mul(V("x"), Int(1000))),
			Fn("d", []string{"x"}, Mul(V("x"), Int(10))),
			Fn("m", nil,
				Let("p", Async("b", Int(5)),
					Let("q", Async("d", Int(5)),
						Add(Await(V("p")), Await(V("q")))))),
		), RunOpts{Entry: "m"})
		wantValue(t, res, vals.Int(5050))
	})

	t.Run("Concurrent", func(t *testing.T) {
		// The README example with rs returning 0:
		// concurrent(5) = 1000*(5+1) + (10*(5-1))*(-1) = 5960,
		// regardless of which branch completes first.
		res := RunProgram(t, newCtrl(t), ProgWithImports(
			[]ast.Import{RSImport},
			Fn("slow1", []string{"x"},
				Add(Mul(Int(1000), Add(V("x"), Int(1))), Call("rs", V("x"), Int(1)))),
			Fn("slow2", []string{"x"},
				Add(Mul(Int(10), Sub(V("x"), Int(1))), Call("rs", V("x"), Int(1)))),
			Fn("concurrent", []string{"n"},
				Let("p", Async("slow1", V("n")),
					Let("q", Async("slow2", V("n")),
						Add(Await(V("p")), Mul(Await(V("q")), Int(-1)))))),
			Fn("main", nil, Call("concurrent", Int(5))),
		), RunOpts{})
		wantValue(t, res, vals.Int(5960))
	})

	t.Run("ErrorPropagation", func(t *testing.T) {
		// fn loop_err() { 1/0 }  fn main() { p = async loop_err(); await p + 1 }
		res := RunProgram(t, newCtrl(t), Prog(
			Fn("loop_err", nil, Div(Int(1), Int(0))),
			Fn("main", nil,
				Let("p", Async("loop_err"),
					Add(Await(V("p")), Int(1)))),
		), RunOpts{})
		if res.Err == nil {
			t.Fatalf("want errored outcome, got value %v", res.Value)
		}
		if res.Err.Kind != machine.DivisionByZero {
			t.Errorf("error kind = %s, want %s", res.Err.Kind, machine.DivisionByZero)
		}
		if res.Err.Origin == 0 {
			t.Errorf("error has no origin thread")
		}
		if len(res.Err.Trail) == 0 {
			t.Errorf("error did not record the propagating thread chain")
		}
	})

	t.Run("PrintOutput", func(t *testing.T) {
		// print returns its operand, so the printed value is also the result.
		res := RunProgram(t, newCtrl(t),
			Prog(Fn("main", nil, Prim("print", Add(Int(40), Int(2))))), RunOpts{})
		wantValue(t, res, vals.Int(42))
		if res.Output != "42\n" {
			t.Errorf("output = %q, want %q", res.Output, "42\n")
		}
	})
}

func wantValue(t *testing.T, res Result, want vals.Value) {
	t.Helper()
	if res.Err != nil {
		t.Fatalf("program errored: %v", res.Err)
	}
	if !vals.Equal(res.Value, want) {
		t.Errorf("result = %s, want %s", vals.Repr(res.Value), vals.Repr(want))
	}
}
