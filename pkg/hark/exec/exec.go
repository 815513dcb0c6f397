// Package exec implements the thread executor: it advances one leased thread
// through a bounded number of instructions against a local snapshot, and
// produces the commit that the controller applies atomically.
package exec

import (
	"bytes"
	"errors"
	"time"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/foreign"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Options configures an Executor.
type Options struct {
	// StepBudget is the maximum number of instructions per step; a thread
	// that exhausts it stays ready. Defaults to 1000.
	StepBudget int
	// SleepScale multiplies Sleep durations; a negative value is clamped to 0,
	// which makes sleeps instant. Zero means the default, 1.
	SleepScale float64
	// Probe observes execution. Defaults to NopProbe.
	Probe Probe
}

// Executor steps threads. It holds no per-thread state of its own; all state
// lives in the controller and in the lease being stepped.
type Executor struct {
	ctrl     ctrl.Controller
	code     *code.Model
	foreigns *foreign.Registry
	opts     Options
}

// New creates an executor running the given code model.
func New(c ctrl.Controller, model *code.Model, reg *foreign.Registry, opts Options) *Executor {
	if opts.StepBudget <= 0 {
		opts.StepBudget = 1000
	}
	if opts.SleepScale < 0 {
		opts.SleepScale = 0
	} else if opts.SleepScale == 0 {
		opts.SleepScale = 1
	}
	if opts.Probe == nil {
		opts.Probe = NopProbe{}
	}
	return &Executor{ctrl: c, code: model, foreigns: reg, opts: opts}
}

// step is the mutable state of one step: the leased thread record, advanced
// in place, plus the outbox applied at commit.
type step struct {
	t       *machine.Thread
	spawns  []ctrl.Spawn
	output  []machine.OutputEntry
	blockOn machine.FutureID
}

// Step runs a bounded number of instructions on a leased thread and returns
// the commit to apply. A returned error is an infrastructure failure
// (controller unreachable); program errors end up in the commit instead.
func (ex *Executor) Step(lease *ctrl.Lease) (ctrl.Commit, error) {
	st := &step{t: lease.Thread}
	t := st.t

	var outcome ctrl.Outcome
	var runErr *machine.Error
	var result vals.Value

	for budget := ex.opts.StepBudget; ; budget-- {
		if budget <= 0 {
			outcome = ctrl.Yield
			break
		}
		if t.IP < 0 || t.IP >= len(ex.code.Instrs) {
			runErr = machine.Errorf(machine.MalformedCode,
				"instruction pointer %d out of bounds", t.IP)
			outcome = ctrl.Error
			break
		}
		instr := ex.code.Instrs[t.IP]
		ex.opts.Probe.OnStep(t, t.IP, instr)
		t.IP++

		done, v, err := ex.eval(st, instr)
		if err != nil {
			if err.Kind == machine.ControllerUnavailable {
				return ctrl.Commit{}, errors.New(err.Message)
			}
			runErr = err
			outcome = ctrl.Error
			break
		}
		if done != "" {
			outcome = done
			result = v
			break
		}
	}

	cm := ctrl.Commit{
		Thread: t.ID,
		Token:  lease.Token,
		Snap: ctrl.Snapshot{
			Fn: t.Fn, IP: t.IP, Stack: t.Stack, Locals: t.Locals, Frames: t.Frames,
		},
		Outcome: outcome,
		Spawns:  st.spawns,
		Output:  st.output,
	}

	switch outcome {
	case ctrl.Block:
		cm.BlockOn = st.blockOn
	case ctrl.Finish:
		ex.opts.Probe.OnStopped(t)
		cm.Resolutions = append(cm.Resolutions,
			ctrl.Resolution{Future: t.Terminal, Value: vals.Box{V: result}})
	case ctrl.Error:
		ex.opts.Probe.OnStopped(t)
		// An error with an origin came out of a resolved future; this thread
		// joins the trail. A fresh error originates here.
		if runErr.Origin == 0 {
			runErr = runErr.Clone()
			runErr.Origin = t.ID
		} else {
			runErr = runErr.Propagated(t.ID)
		}
		cm.Err = runErr
		cm.Resolutions = append(cm.Resolutions,
			ctrl.Resolution{Future: t.Terminal, Value: vals.Box{V: runErr.Value()}})
	}
	return cm, nil
}

// eval executes one instruction. It returns a non-empty outcome when the
// step must end, with the final value for Finish.
func (ex *Executor) eval(st *step, instr code.Instr) (ctrl.Outcome, vals.Value, *machine.Error) {
	t := st.t
	switch instr.Op {
	case code.Nop:

	case code.PushV:
		v, err := ex.lookup(t, instr.Sym)
		if err != nil {
			return "", nil, err
		}
		t.Stack = append(t.Stack, v)

	case code.PushL:
		v := instr.Val
		if v == nil {
			v = vals.Null{}
		}
		t.Stack = append(t.Stack, v)

	case code.Bind:
		v, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		if t.Locals == nil {
			t.Locals = make(machine.Bindings)
		}
		t.Locals[instr.Sym] = v

	case code.Pop:
		if _, err := pop(t); err != nil {
			return "", nil, err
		}

	case code.Jump:
		t.IP += instr.Num

	case code.JumpIfNot:
		v, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		if !vals.Truth(v) {
			t.IP += instr.Num
		}

	case code.Call:
		return "", nil, ex.call(st, instr.Num)

	case code.CallF:
		return "", nil, ex.callForeign(st, instr.Num)

	case code.ACall:
		return "", nil, ex.callAsync(st, instr.Num)

	case code.Wait:
		return ex.wait(st)

	case code.Return:
		v, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		if len(t.Frames) == 0 {
			// Root return: the thread is done.
			return ctrl.Finish, v, nil
		}
		ex.opts.Probe.OnReturn(t)
		fr := t.Frames[len(t.Frames)-1]
		t.Frames = t.Frames[:len(t.Frames)-1]
		t.Fn, t.IP, t.Stack, t.Locals = fr.Fn, fr.IP, fr.Stack, fr.Locals
		t.Stack = append(t.Stack, v)

	case code.Add, code.Sub, code.Mul, code.Div, code.Eq, code.Lt, code.Gt,
		code.And, code.Or:
		b, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		a, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		v, err2 := binaryOp(instr.Op, a, b)
		if err2 != nil {
			return "", nil, err2
		}
		t.Stack = append(t.Stack, v)

	case code.Neg, code.Not:
		a, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		v, err2 := unaryOp(instr.Op, a)
		if err2 != nil {
			return "", nil, err2
		}
		t.Stack = append(t.Stack, v)

	case code.ListNew, code.ListGet, code.ListCat, code.ListCons,
		code.ListAppend, code.ListFirst, code.ListRest, code.ListLen,
		code.Atomp, code.Nullp, code.RecordNew, code.RecordGet:
		if err := ex.dataOp(st, instr); err != nil {
			return "", nil, err
		}

	case code.Print:
		v, err := peek(t)
		if err != nil {
			return "", nil, err
		}
		st.output = append(st.output,
			machine.OutputEntry{Thread: t.ID, Text: vals.ToString(v) + "\n"})

	case code.Sleep:
		v, err := pop(t)
		if err != nil {
			return "", nil, err
		}
		secs, ok := asFloat(v)
		if !ok {
			return "", nil, machine.Errorf(machine.TypeMismatch,
				"sleep wants a number, got %s", vals.Kind(v))
		}
		if d := time.Duration(secs * ex.opts.SleepScale * float64(time.Second)); d > 0 {
			time.Sleep(d)
		}
		t.Stack = append(t.Stack, vals.Null{})

	default:
		return "", nil, machine.Errorf(machine.MalformedCode,
			"unknown opcode %s", instr.Op)
	}
	return "", nil, nil
}

// lookup resolves a name: local bindings first, then the function symbol
// table, then foreign imports.
func (ex *Executor) lookup(t *machine.Thread, name string) (vals.Value, *machine.Error) {
	if v, ok := t.Locals[name]; ok {
		return v, nil
	}
	if info, ok := ex.code.Func(name); ok {
		return vals.FuncRef{Name: name, Arity: info.Arity}, nil
	}
	if info, ok := ex.code.Foreign(name); ok {
		return vals.ForeignRef{Name: info.Target, Arity: info.Arity}, nil
	}
	return nil, machine.Errorf(machine.UnboundName, "%s is not bound", name)
}

// call enters a function, pushing an activation frame, or dispatches to the
// foreign bridge when the callee is a foreign reference.
func (ex *Executor) call(st *step, n int) *machine.Error {
	t := st.t
	callee, err := pop(t)
	if err != nil {
		return err
	}
	switch callee := callee.(type) {
	case vals.FuncRef:
		info, ok := ex.code.Func(callee.Name)
		if !ok {
			return machine.Errorf(machine.UndefinedFunction,
				"%s is not defined", callee.Name)
		}
		if n != info.Arity {
			return machine.Errorf(machine.ArityMismatch,
				"%s wants %d arguments, got %d", callee.Name, info.Arity, n)
		}
		args, err := popN(t, n)
		if err != nil {
			return err
		}
		ex.opts.Probe.OnEnter(t, callee.Name)
		t.Frames = append(t.Frames, machine.Frame{
			Fn: t.Fn, IP: t.IP, Stack: t.Stack, Locals: t.Locals,
		})
		locals := make(machine.Bindings, n)
		for i, p := range info.Params {
			locals[p] = args[i]
		}
		t.Fn = callee.Name
		t.IP = info.Entry
		t.Stack = nil
		t.Locals = locals
		return nil
	case vals.ForeignRef:
		t.Stack = append(t.Stack, callee)
		return ex.callForeign(st, n)
	default:
		return machine.Errorf(machine.TypeMismatch,
			"calling a non-function value of kind %s", vals.Kind(callee))
	}
}

// callForeign invokes a host procedure synchronously within the step.
func (ex *Executor) callForeign(st *step, n int) *machine.Error {
	t := st.t
	callee, err := pop(t)
	if err != nil {
		return err
	}
	ref, ok := callee.(vals.ForeignRef)
	if !ok {
		return machine.Errorf(machine.TypeMismatch,
			"foreign call on a value of kind %s", vals.Kind(callee))
	}
	if n != ref.Arity {
		return machine.Errorf(machine.ArityMismatch,
			"foreign %s wants %d arguments, got %d", ref.Name, ref.Arity, n)
	}
	args, err := popN(t, n)
	if err != nil {
		return err
	}
	ex.opts.Probe.Logf("%d foreign %s", t.ID, ref.Name)
	var buf bytes.Buffer
	result, ferr := ex.foreigns.Invoke(ref.Name, foreign.Call{Args: args, Output: &buf})
	if buf.Len() > 0 {
		st.output = append(st.output,
			machine.OutputEntry{Thread: t.ID, Text: buf.String()})
	}
	if ferr != nil {
		return machine.Errorf(machine.ForeignError, "%s: %v", ref.Name, ferr)
	}
	if result == nil {
		result = vals.Null{}
	}
	t.Stack = append(t.Stack, result)
	return nil
}

// callAsync spawns a thread for the callee and pushes a fresh future. The
// caller's frame is untouched; it continues immediately.
func (ex *Executor) callAsync(st *step, n int) *machine.Error {
	t := st.t
	callee, err := pop(t)
	if err != nil {
		return err
	}
	ref, ok := callee.(vals.FuncRef)
	if !ok {
		if _, isForeign := callee.(vals.ForeignRef); isForeign {
			return machine.Errorf(machine.TypeMismatch,
				"cannot call foreign asynchronously")
		}
		return machine.Errorf(machine.TypeMismatch,
			"calling a non-function value of kind %s", vals.Kind(callee))
	}
	info, ok := ex.code.Func(ref.Name)
	if !ok {
		return machine.Errorf(machine.UndefinedFunction, "%s is not defined", ref.Name)
	}
	if n != info.Arity {
		return machine.Errorf(machine.ArityMismatch,
			"%s wants %d arguments, got %d", ref.Name, info.Arity, n)
	}
	args, err := popN(t, n)
	if err != nil {
		return err
	}
	tid, fid, rerr := ex.ctrl.ReserveIDs()
	if rerr != nil {
		return machine.Errorf(machine.ControllerUnavailable, "reserve ids: %v", rerr)
	}
	st.spawns = append(st.spawns, ctrl.Spawn{
		Thread: tid, Future: fid, Fn: ref.Name, Args: machine.Stack(args),
	})
	ex.opts.Probe.Logf("%d fork %s as thread %d future %d", t.ID, ref.Name, tid, fid)
	t.Stack = append(t.Stack, vals.FutureRef{ID: uint64(fid)})
	return nil
}

// wait implements Wait: a resolved future is replaced by its value, an
// unresolved one suspends the thread, and a non-future passes through.
func (ex *Executor) wait(st *step) (ctrl.Outcome, vals.Value, *machine.Error) {
	t := st.t
	top, err := peek(t)
	if err != nil {
		return "", nil, err
	}
	ref, ok := top.(vals.FutureRef)
	if !ok {
		// Awaiting a value that is already a value.
		return "", nil, nil
	}
	fid := machine.FutureID(ref.ID)
	for _, s := range st.spawns {
		if s.Future == fid {
			// Spawned earlier in this step: the controller has no record of it
			// until the commit, and it is certainly unresolved.
			st.blockOn = fid
			return ctrl.Block, nil, nil
		}
	}
	f, rerr := ex.ctrl.ReadFuture(fid)
	if rerr != nil {
		return "", nil, machine.Errorf(machine.ControllerUnavailable, "read future: %v", rerr)
	}
	if !f.Resolved {
		st.blockOn = f.ID
		return ctrl.Block, nil, nil
	}
	if errVal, isErr := machine.ErrorFromValue(f.Value.V); isErr {
		// The producer errored; the error flows through await.
		return "", nil, errVal
	}
	t.Stack[len(t.Stack)-1] = f.Value.V
	return "", nil, nil
}

func pop(t *machine.Thread) (vals.Value, *machine.Error) {
	if len(t.Stack) == 0 {
		return nil, machine.Errorf(machine.MalformedCode, "operand stack underflow")
	}
	v := t.Stack[len(t.Stack)-1]
	t.Stack = t.Stack[:len(t.Stack)-1]
	return v, nil
}

func peek(t *machine.Thread) (vals.Value, *machine.Error) {
	if len(t.Stack) == 0 {
		return nil, machine.Errorf(machine.MalformedCode, "operand stack underflow")
	}
	return t.Stack[len(t.Stack)-1], nil
}

// popN pops n values and returns them in push order.
func popN(t *machine.Thread, n int) ([]vals.Value, *machine.Error) {
	if len(t.Stack) < n {
		return nil, machine.Errorf(machine.MalformedCode, "operand stack underflow")
	}
	args := make([]vals.Value, n)
	copy(args, t.Stack[len(t.Stack)-n:])
	t.Stack = t.Stack[:len(t.Stack)-n]
	return args, nil
}

func asFloat(v vals.Value) (float64, bool) {
	switch v := v.(type) {
	case vals.Int:
		return float64(v), true
	case vals.Float:
		return float64(v), true
	default:
		return 0, false
	}
}
