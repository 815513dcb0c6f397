package exec_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/hark-lang/hark/pkg/hark/ast"
	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/exec"
	"github.com/hark-lang/hark/pkg/hark/foreign"
	"github.com/hark-lang/hark/pkg/hark/harktest"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// runOne steps a single controller to completion with one executor, leasing
// in a loop. It returns the root outcome and the number of steps taken.
func runOne(t *testing.T, c ctrl.Controller, ex *exec.Executor, root machine.FutureID) (vals.Value, *machine.Error, int) {
	t.Helper()
	steps := 0
	for i := 0; i < 10000; i++ {
		f, err := c.ReadFuture(root)
		if err != nil {
			t.Fatalf("read root future: %v", err)
		}
		if f.Resolved {
			if e, isErr := machine.ErrorFromValue(f.Value.V); isErr {
				return nil, e, steps
			}
			return f.Value.V, nil, steps
		}
		lease, err := c.LeaseReady()
		if err != nil {
			t.Fatalf("lease: %v", err)
		}
		if lease == nil {
			t.Fatalf("no ready thread but root future unresolved")
		}
		cm, err := ex.Step(lease)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		steps++
		woken, err := c.CommitStep(cm)
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := c.Wake(woken); err != nil {
			t.Fatalf("wake: %v", err)
		}
	}
	t.Fatalf("program did not terminate")
	return nil, nil, steps
}

func setup(t *testing.T, p *ast.Program, reg *foreign.Registry, opts exec.Options) (ctrl.Controller, *exec.Executor, machine.FutureID) {
	t.Helper()
	model, err := compile.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return setupModel(t, model, reg, opts)
}

func setupModel(t *testing.T, model *code.Model, reg *foreign.Registry, opts exec.Options) (ctrl.Controller, *exec.Executor, machine.FutureID) {
	t.Helper()
	c := ctrl.NewMem(ctrl.MemOptions{})
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if reg == nil {
		reg = harktest.NewRegistry()
	}
	opts.SleepScale = -1 // clamps to 0: sleeps are instant in tests
	ex := exec.New(c, model, reg, opts)
	_, fid, err := c.NewThread("main", nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	return c, ex, fid
}

func TestStepBudgetYields(t *testing.T) {
	// countdown recurses; with a tiny budget the thread must yield and stay
	// ready instead of finishing in one step.
	p := harktest.Prog(
		harktest.Fn("countdown", []string{"n"},
			harktest.If(harktest.Prim("eq", harktest.V("n"), harktest.Int(0)),
				harktest.Int(0),
				harktest.Call("countdown", harktest.Sub(harktest.V("n"), harktest.Int(1))))),
		harktest.Fn("main", nil, harktest.Call("countdown", harktest.Int(20))),
	)
	c, ex, root := setup(t, p, nil, exec.Options{StepBudget: 5})
	v, perr, steps := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Int(0)) {
		t.Errorf("result = %s, want 0", vals.Repr(v))
	}
	if steps < 2 {
		t.Errorf("took %d steps, want several under a budget of 5", steps)
	}
}

func TestWaitOnResolvedFutureDoesNotSuspend(t *testing.T) {
	// A hand-built model: unit() returns 7; main awaits a literal reference
	// to unit's terminal future, which resolves before main first runs.
	model := &code.Model{
		Instrs: []code.Instr{
			// unit
			{Op: code.PushL, Val: vals.Int(7)},
			{Op: code.Return},
			// main
			{Op: code.PushL, Val: vals.FutureRef{ID: 1}},
			{Op: code.Wait},
			{Op: code.Return},
		},
		Funcs: map[string]code.FuncInfo{
			"unit": {Name: "unit", Entry: 0},
			"main": {Name: "main", Entry: 2},
		},
	}
	c := ctrl.NewMem(ctrl.MemOptions{})
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ex := exec.New(c, model, harktest.NewRegistry(), exec.Options{})
	_, unitRoot, err := c.NewThread("unit", nil) // terminal future id 1
	if err != nil {
		t.Fatalf("new unit thread: %v", err)
	}
	if v, perr, _ := runOne(t, c, ex, unitRoot); perr != nil || !vals.Equal(v, vals.Int(7)) {
		t.Fatalf("unit run = %v, %v", v, perr)
	}

	_, mainRoot, err := c.NewThread("main", nil)
	if err != nil {
		t.Fatalf("new main thread: %v", err)
	}
	v, perr, steps := runOne(t, c, ex, mainRoot)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Int(7)) {
		t.Errorf("result = %s, want 7", vals.Repr(v))
	}
	if steps != 1 {
		t.Errorf("await on a resolved future took %d steps, want 1 (no suspension)", steps)
	}
}

func TestWaitSuspendsAndResumes(t *testing.T) {
	model := &code.Model{
		Instrs: []code.Instr{
			// unit
			{Op: code.PushL, Val: vals.Int(7)},
			{Op: code.Return},
			// main: awaits unit's terminal future before unit has run
			{Op: code.PushL, Val: vals.FutureRef{ID: 1}},
			{Op: code.Wait},
			{Op: code.Return},
		},
		Funcs: map[string]code.FuncInfo{
			"unit": {Name: "unit", Entry: 0},
			"main": {Name: "main", Entry: 2},
		},
	}
	c := ctrl.NewMem(ctrl.MemOptions{})
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ex := exec.New(c, model, harktest.NewRegistry(), exec.Options{})
	unitTid, _, err := c.NewThread("unit", nil) // terminal future id 1
	if err != nil {
		t.Fatalf("new unit thread: %v", err)
	}
	mainTid, mainRoot, err := c.NewThread("main", nil)
	if err != nil {
		t.Fatalf("new main thread: %v", err)
	}

	// Step main first (skipping unit) so that Wait hits an unresolved
	// future and blocks.
	leaseUnit, _ := c.LeaseReady()
	if leaseUnit.Thread.ID != unitTid {
		t.Fatalf("leased %d, want unit %d", leaseUnit.Thread.ID, unitTid)
	}
	leaseMain, _ := c.LeaseReady()
	if leaseMain.Thread.ID != mainTid {
		t.Fatalf("leased %d, want main %d", leaseMain.Thread.ID, mainTid)
	}
	cm, err := ex.Step(leaseMain)
	if err != nil {
		t.Fatalf("step main: %v", err)
	}
	if cm.Outcome != ctrl.Block || cm.BlockOn != 1 {
		t.Fatalf("main outcome = %s on %d, want block on 1", cm.Outcome, cm.BlockOn)
	}
	if _, err := c.CommitStep(cm); err != nil {
		t.Fatalf("commit main: %v", err)
	}

	// Now run unit to completion; its terminal resolution must wake main.
	cm, err = ex.Step(leaseUnit)
	if err != nil {
		t.Fatalf("step unit: %v", err)
	}
	woken, err := c.CommitStep(cm)
	if err != nil {
		t.Fatalf("commit unit: %v", err)
	}
	if len(woken) != 1 || woken[0] != mainTid {
		t.Fatalf("woken = %v, want [main %d]", woken, mainTid)
	}
	if err := c.Wake(woken); err != nil {
		t.Fatalf("wake: %v", err)
	}

	v, perr, _ := runOne(t, c, ex, mainRoot)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Int(7)) {
		t.Errorf("result = %s, want 7", vals.Repr(v))
	}
}

func TestRecordingProbe(t *testing.T) {
	probe := &exec.RecordingProbe{}
	p := harktest.Prog(
		harktest.Fn("a", []string{"x"}, harktest.Add(harktest.V("x"), harktest.Int(1))),
		harktest.Fn("main", nil, harktest.Call("a", harktest.Int(41))),
	)
	c, ex, root := setup(t, p, nil, exec.Options{Probe: probe})
	if v, perr, _ := runOne(t, c, ex, root); perr != nil || !vals.Equal(v, vals.Int(42)) {
		t.Fatalf("run = %v, %v", v, perr)
	}
	lines := strings.Join(probe.Lines(), "\n")
	for _, want := range []string{"enter a", "return", "stopped", "call 1"} {
		if !strings.Contains(lines, want) {
			t.Errorf("probe log missing %q:\n%s", want, lines)
		}
	}
}

func TestDivisionByZeroErrorsThread(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Div(harktest.Int(1), harktest.Int(0))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.DivisionByZero {
		t.Fatalf("err = %v, want division-by-zero", perr)
	}
	th, err := c.Thread(1)
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if th.State != machine.Errored {
		t.Errorf("thread state = %s, want errored", th.State)
	}
}

func TestCallNonFunction(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		ast.Call{Target: harktest.Int(3)}))
	c, ex, root := setup(t, p, nil, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.TypeMismatch {
		t.Fatalf("err = %v, want type-mismatch", perr)
	}
}

func TestCallArityMismatch(t *testing.T) {
	p := harktest.Prog(
		harktest.Fn("f", []string{"a", "b"}, harktest.V("a")),
		harktest.Fn("main", nil, harktest.Call("f", harktest.Int(1))),
	)
	c, ex, root := setup(t, p, nil, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.ArityMismatch {
		t.Fatalf("err = %v, want arity-mismatch", perr)
	}
}

func TestUnboundName(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil, harktest.V("mystery")))
	c, ex, root := setup(t, p, nil, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.UnboundName {
		t.Fatalf("err = %v, want unbound-name", perr)
	}
}

func TestForeignCall(t *testing.T) {
	reg := foreign.NewRegistry(0)
	reg.Register("test/shout", 1, func(call foreign.Call) (vals.Value, error) {
		call.Output.Write([]byte("shouting\n"))
		s, _ := call.Args[0].(vals.Str)
		return vals.Str(string(s) + "!"), nil
	})
	p := harktest.ProgWithImports(
		[]ast.Import{{Name: "shout", Target: "test/shout", Arity: 1}},
		harktest.Fn("main", nil, harktest.Call("shout", harktest.Lit(vals.Str("hi")))),
	)
	c, ex, root := setup(t, p, reg, exec.Options{})
	v, perr, _ := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Str("hi!")) {
		t.Errorf("result = %s, want \"hi!\"", vals.Repr(v))
	}
	out, err := c.Outputs()
	if err != nil {
		t.Fatalf("outputs: %v", err)
	}
	if len(out) != 1 || out[0].Text != "shouting\n" {
		t.Errorf("foreign output not captured: %v", out)
	}
}

func TestForeignErrorSurfaces(t *testing.T) {
	reg := foreign.NewRegistry(0)
	reg.Register("test/boom", 0, func(foreign.Call) (vals.Value, error) {
		return nil, errors.New("kaboom")
	})
	p := harktest.ProgWithImports(
		[]ast.Import{{Name: "boom", Target: "test/boom", Arity: 0}},
		harktest.Fn("main", nil, harktest.Call("boom")),
	)
	c, ex, root := setup(t, p, reg, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.ForeignError {
		t.Fatalf("err = %v, want foreign-error", perr)
	}
}

func TestListPrimitives(t *testing.T) {
	// first(rest([1 2 3])) + len(cons(0, [4 5])) = 2 + 3 = 5
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Add(
			harktest.Prim("first", harktest.Prim("rest",
				harktest.Prim("list", harktest.Int(1), harktest.Int(2), harktest.Int(3)))),
			harktest.Prim("len", harktest.Prim("list-cons", harktest.Int(0),
				harktest.Prim("list", harktest.Int(4), harktest.Int(5)))))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	v, perr, _ := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Int(5)) {
		t.Errorf("result = %s, want 5", vals.Repr(v))
	}
}

func TestListCatTreatsNullAsEmpty(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Prim("list-cat", harktest.Lit(vals.Null{}),
			harktest.Prim("list", harktest.Int(9)))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	v, perr, _ := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.List{vals.Int(9)}) {
		t.Errorf("result = %s, want [9]", vals.Repr(v))
	}
}

func TestRecordPrimitives(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Prim("record-get",
			harktest.Prim("record",
				harktest.Lit(vals.Sym("a")), harktest.Int(1),
				harktest.Lit(vals.Sym("b")), harktest.Int(2)),
			harktest.Lit(vals.Sym("b")))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	v, perr, _ := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Int(2)) {
		t.Errorf("result = %s, want 2", vals.Repr(v))
	}
}

func TestTypeMismatchOnAdd(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Add(harktest.Int(1), harktest.Lit(vals.Str("x")))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	_, perr, _ := runOne(t, c, ex, root)
	if perr == nil || perr.Kind != machine.TypeMismatch {
		t.Fatalf("err = %v, want type-mismatch", perr)
	}
}

func TestFloatPromotion(t *testing.T) {
	p := harktest.Prog(harktest.Fn("main", nil,
		harktest.Mul(harktest.Lit(vals.Float(1.5)), harktest.Int(4))))
	c, ex, root := setup(t, p, nil, exec.Options{})
	v, perr, _ := runOne(t, c, ex, root)
	if perr != nil {
		t.Fatalf("errored: %v", perr)
	}
	if !vals.Equal(v, vals.Float(6)) {
		t.Errorf("result = %s, want 6.0", vals.Repr(v))
	}
}
