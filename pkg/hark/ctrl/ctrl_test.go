package ctrl_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/harktest"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

func TestMemController(t *testing.T) {
	harktest.TestController(t, func(t *testing.T) ctrl.Controller {
		return ctrl.NewMem(ctrl.MemOptions{})
	})
}

func TestMemScenarios(t *testing.T) {
	harktest.TestScenarios(t, func(t *testing.T) ctrl.Controller {
		return ctrl.NewMem(ctrl.MemOptions{})
	})
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seeded(t *testing.T, c ctrl.Controller) {
	t.Helper()
	model, err := compile.Compile(harktest.Prog(
		harktest.Fn("g", nil, harktest.Int(7))))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestLeaseExpiryReclaim(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := ctrl.NewMem(ctrl.MemOptions{
		LeaseTimeout: time.Second,
		Clock:        clock.Now,
	})
	seeded(t, c)
	tid, _, err := c.NewThread("g", nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}

	first, err := c.LeaseReady()
	if err != nil || first == nil {
		t.Fatalf("first lease: %v %v", first, err)
	}
	// Within the timeout the thread stays exclusively leased.
	if l, _ := c.LeaseReady(); l != nil {
		t.Fatalf("running thread leased twice")
	}

	clock.Advance(2 * time.Second)
	second, err := c.LeaseReady()
	if err != nil || second == nil {
		t.Fatalf("expired lease not reclaimed: %v %v", second, err)
	}
	if second.Thread.ID != tid {
		t.Fatalf("reclaimed thread = %d, want %d", second.Thread.ID, tid)
	}

	// The first holder's commit must now fail: its lease was voided when
	// the thread was re-leased.
	cm := ctrl.Commit{Thread: tid, Token: first.Token,
		Snap:    ctrl.Snapshot{Fn: first.Thread.Fn, IP: first.Thread.IP},
		Outcome: ctrl.Yield}
	if _, err := c.CommitStep(cm); err != ctrl.ErrLeaseLost {
		t.Errorf("stale commit: err = %v, want ErrLeaseLost", err)
	}

	// The new holder's commit succeeds.
	cm.Token = second.Token
	if _, err := c.CommitStep(cm); err != nil {
		t.Errorf("fresh commit: %v", err)
	}
}

func TestWakeTolerantOfRepeats(t *testing.T) {
	c := ctrl.NewMem(ctrl.MemOptions{})
	seeded(t, c)
	tid, _, _ := c.NewThread("g", nil)
	_, fid2, _ := c.NewThread("g", nil)

	lease, _ := c.LeaseReady()
	cm := ctrl.Commit{Thread: tid, Token: lease.Token,
		Snap: ctrl.Snapshot{Fn: lease.Thread.Fn, IP: lease.Thread.IP,
			Stack: machine.Stack{vals.FutureRef{ID: uint64(fid2)}}},
		Outcome: ctrl.Block, BlockOn: fid2}
	if _, err := c.CommitStep(cm); err != nil {
		t.Fatalf("commit: %v", err)
	}
	woken, err := c.Resolve(fid2, vals.Int(1))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := c.Wake(woken); err != nil {
		t.Fatalf("wake: %v", err)
	}
	// At-least-once delivery may repeat the wake; it must be a no-op.
	if err := c.Wake(woken); err != nil {
		t.Fatalf("repeated wake: %v", err)
	}
	th, _ := c.Thread(tid)
	if th.State != machine.Ready {
		t.Errorf("state = %s, want ready", th.State)
	}
	if len(th.Stack) != 1 || !vals.Equal(th.Stack[0], vals.Int(1)) {
		t.Errorf("stack = %v, want the value injected exactly once", th.Stack)
	}
}

func TestReserveIDsNeverCollide(t *testing.T) {
	c := ctrl.NewMem(ctrl.MemOptions{})
	seeded(t, c)
	seenT := make(map[machine.ThreadID]bool)
	seenF := make(map[machine.FutureID]bool)
	for i := 0; i < 100; i++ {
		tid, fid, err := c.ReserveIDs()
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if seenT[tid] || seenF[fid] {
			t.Fatalf("identifier reuse at %d: %d %d", i, tid, fid)
		}
		seenT[tid], seenF[fid] = true, true
	}
	// Reserved but uncommitted ids must not block later thread creation.
	if _, _, err := c.NewThread("g", nil); err != nil {
		t.Fatalf("new thread after reservations: %v", err)
	}
}
