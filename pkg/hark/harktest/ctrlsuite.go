package harktest

import (
	"errors"
	"testing"

	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// TestController exercises the controller API contract. Both implementations
// must pass it unchanged; the scheduler and executor are written against
// exactly the behaviors checked here.
func TestController(t *testing.T, newCtrl func(t *testing.T) ctrl.Controller) {
	seed := func(t *testing.T) ctrl.Controller {
		t.Helper()
		c := newCtrl(t)
		model, err := compile.Compile(Prog(
			Fn("f", []string{"x"}, V("x")),
			Fn("g", nil, Int(7)),
		))
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		if err := c.SeedCode(model); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return c
	}

	// snap extracts a commit snapshot from a leased thread.
	snap := func(l *ctrl.Lease) ctrl.Snapshot {
		th := l.Thread
		return ctrl.Snapshot{Fn: th.Fn, IP: th.IP, Stack: th.Stack,
			Locals: th.Locals, Frames: th.Frames}
	}

	t.Run("NewThread", func(t *testing.T) {
		c := seed(t)
		tid, fid, err := c.NewThread("f", []vals.Value{vals.Int(1)})
		if err != nil {
			t.Fatalf("NewThread: %v", err)
		}
		th, err := c.Thread(tid)
		if err != nil {
			t.Fatalf("Thread: %v", err)
		}
		if th.State != machine.Ready {
			t.Errorf("state = %s, want ready", th.State)
		}
		if !vals.Equal(th.Locals["x"], vals.Int(1)) {
			t.Errorf("parameter x not pre-bound: %v", th.Locals)
		}
		if th.Terminal != fid {
			t.Errorf("terminal future = %d, want %d", th.Terminal, fid)
		}
		f, err := c.ReadFuture(fid)
		if err != nil {
			t.Fatalf("ReadFuture: %v", err)
		}
		if f.Resolved {
			t.Errorf("terminal future resolved at birth")
		}
	})

	t.Run("NewThreadErrors", func(t *testing.T) {
		c := seed(t)
		if _, _, err := c.NewThread("nope", nil); !errors.Is(err, ctrl.ErrUndefinedFunction) {
			t.Errorf("unknown function: err = %v, want ErrUndefinedFunction", err)
		}
		if _, _, err := c.NewThread("f", nil); !errors.Is(err, ctrl.ErrArity) {
			t.Errorf("wrong arity: err = %v, want ErrArity", err)
		}
	})

	t.Run("LeaseExclusive", func(t *testing.T) {
		c := seed(t)
		if _, _, err := c.NewThread("g", nil); err != nil {
			t.Fatalf("NewThread: %v", err)
		}
		lease, err := c.LeaseReady()
		if err != nil || lease == nil {
			t.Fatalf("LeaseReady: lease=%v err=%v", lease, err)
		}
		second, err := c.LeaseReady()
		if err != nil {
			t.Fatalf("LeaseReady: %v", err)
		}
		if second != nil {
			t.Errorf("running thread leased twice")
		}
	})

	t.Run("CommitWrongToken", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token + 100,
			Snap: snap(lease), Outcome: ctrl.Yield}
		if _, err := c.CommitStep(cm); !errors.Is(err, ctrl.ErrLeaseLost) {
			t.Errorf("commit with wrong token: err = %v, want ErrLeaseLost", err)
		}
	})

	t.Run("CommitIdempotent", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token,
			Snap: snap(lease), Outcome: ctrl.Yield}
		cm.Snap.IP = 42
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("first commit: %v", err)
		}
		// Retrying the same step token must be a no-op, even with a
		// different snapshot.
		cm.Snap.IP = 99
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("retried commit: %v", err)
		}
		th, _ := c.Thread(tid)
		if th.IP != 42 {
			t.Errorf("retried commit applied: ip = %d, want 42", th.IP)
		}
		if th.State != machine.Ready {
			t.Errorf("state = %s, want ready", th.State)
		}
	})

	t.Run("ResolveOnce", func(t *testing.T) {
		c := seed(t)
		_, fid, _ := c.NewThread("g", nil)
		if _, err := c.Resolve(fid, vals.Int(7)); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if _, err := c.Resolve(fid, vals.Int(8)); !errors.Is(err, ctrl.ErrDoubleResolve) {
			t.Errorf("second resolve: err = %v, want ErrDoubleResolve", err)
		}
		f, _ := c.ReadFuture(fid)
		if !vals.Equal(f.Value.V, vals.Int(7)) {
			t.Errorf("second resolve mutated value to %v", f.Value.V)
		}
	})

	t.Run("BlockResolveWake", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		_, fid2, _ := c.NewThread("g", nil)

		lease, _ := c.LeaseReady()
		if lease.Thread.ID != tid {
			t.Fatalf("leased thread %d, want %d", lease.Thread.ID, tid)
		}
		cm := ctrl.Commit{Thread: tid, Token: lease.Token, Snap: snap(lease),
			Outcome: ctrl.Block, BlockOn: fid2}
		cm.Snap.Stack = machine.Stack{vals.FutureRef{ID: uint64(fid2)}}
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("commit block: %v", err)
		}

		th, _ := c.Thread(tid)
		if th.State != machine.Waiting || th.WaitingOn != fid2 {
			t.Fatalf("thread = %s on %d, want waiting on %d", th.State, th.WaitingOn, fid2)
		}
		f, _ := c.ReadFuture(fid2)
		if len(f.Chain) != 1 || f.Chain[0] != tid {
			t.Fatalf("chain = %v, want [%d]", f.Chain, tid)
		}

		woken, err := c.Resolve(fid2, vals.Int(9))
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(woken) != 1 || woken[0] != tid {
			t.Fatalf("woken = %v, want [%d]", woken, tid)
		}
		f, _ = c.ReadFuture(fid2)
		if len(f.Chain) != 0 {
			t.Errorf("chain not cleared after resolve: %v", f.Chain)
		}
		if err := c.Wake(woken); err != nil {
			t.Fatalf("wake: %v", err)
		}
		th, _ = c.Thread(tid)
		if th.State != machine.Ready {
			t.Errorf("state = %s, want ready", th.State)
		}
		if len(th.Stack) != 1 || !vals.Equal(th.Stack[0], vals.Int(9)) {
			t.Errorf("resolved value not injected: stack = %v", th.Stack)
		}
	})

	t.Run("BlockOnAlreadyResolved", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		_, fid2, _ := c.NewThread("g", nil)
		if _, err := c.Resolve(fid2, vals.Int(5)); err != nil {
			t.Fatalf("resolve: %v", err)
		}

		// The future resolves between the executor's read and the commit;
		// the thread must not be stranded in waiting.
		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token, Snap: snap(lease),
			Outcome: ctrl.Block, BlockOn: fid2}
		cm.Snap.Stack = machine.Stack{vals.FutureRef{ID: uint64(fid2)}}
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("commit block: %v", err)
		}
		th, _ := c.Thread(tid)
		if th.State != machine.Ready {
			t.Fatalf("state = %s, want ready", th.State)
		}
		if len(th.Stack) != 1 || !vals.Equal(th.Stack[0], vals.Int(5)) {
			t.Errorf("resolved value not injected: stack = %v", th.Stack)
		}
	})

	t.Run("ErrorCascade", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		_, fid2, _ := c.NewThread("g", nil)

		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token, Snap: snap(lease),
			Outcome: ctrl.Block, BlockOn: fid2}
		cm.Snap.Stack = machine.Stack{vals.FutureRef{ID: uint64(fid2)}}
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("commit block: %v", err)
		}

		errValue := (&machine.Error{
			Kind: machine.DivisionByZero, Message: "division by zero", Origin: 99,
		}).Value()
		woken, err := c.Resolve(fid2, errValue)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if err := c.Wake(woken); err != nil {
			t.Fatalf("wake: %v", err)
		}

		th, _ := c.Thread(tid)
		if th.State != machine.Errored {
			t.Fatalf("state = %s, want errored", th.State)
		}
		if th.Err == nil || th.Err.Kind != machine.DivisionByZero {
			t.Fatalf("thread error = %v, want division-by-zero", th.Err)
		}
		if len(th.Err.Trail) == 0 || th.Err.Trail[len(th.Err.Trail)-1] != tid {
			t.Errorf("trail = %v, want to end with %d", th.Err.Trail, tid)
		}
		// The error keeps flowing: the waiter's own terminal future resolves
		// with the error value.
		f, _ := c.ReadFuture(th.Terminal)
		if !f.Resolved {
			t.Fatalf("terminal future of errored waiter not resolved")
		}
		if _, isErr := machine.ErrorFromValue(f.Value.V); !isErr {
			t.Errorf("terminal future value = %v, want an error value", f.Value.V)
		}
	})

	t.Run("SpawnViaCommit", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		stid, sfid, err := c.ReserveIDs()
		if err != nil {
			t.Fatalf("ReserveIDs: %v", err)
		}
		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token, Snap: snap(lease),
			Outcome: ctrl.Yield,
			Spawns: []ctrl.Spawn{{Thread: stid, Future: sfid, Fn: "f",
				Args: machine.Stack{vals.Int(3)}}}}
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("commit spawn: %v", err)
		}
		th, err := c.Thread(stid)
		if err != nil {
			t.Fatalf("spawned thread: %v", err)
		}
		if th.State != machine.Ready || th.Fn != "f" {
			t.Errorf("spawned thread = %s %s, want ready f", th.State, th.Fn)
		}
		if th.Terminal != sfid {
			t.Errorf("spawned terminal = %d, want %d", th.Terminal, sfid)
		}
	})

	t.Run("OutputAppendOrder", func(t *testing.T) {
		c := seed(t)
		tid, _, _ := c.NewThread("g", nil)
		lease, _ := c.LeaseReady()
		cm := ctrl.Commit{Thread: tid, Token: lease.Token, Snap: snap(lease),
			Outcome: ctrl.Yield,
			Output: []machine.OutputEntry{
				{Thread: tid, Text: "one\n"},
				{Thread: tid, Text: "two\n"},
			}}
		if _, err := c.CommitStep(cm); err != nil {
			t.Fatalf("commit: %v", err)
		}
		entries, err := c.Outputs()
		if err != nil {
			t.Fatalf("outputs: %v", err)
		}
		if len(entries) != 2 || entries[0].Text != "one\n" || entries[1].Text != "two\n" {
			t.Errorf("outputs = %v", entries)
		}
	})
}
