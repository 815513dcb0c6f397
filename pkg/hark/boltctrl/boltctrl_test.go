package boltctrl_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hark-lang/hark/pkg/hark/boltctrl"
	"github.com/hark-lang/hark/pkg/hark/compile"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/harktest"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
	"github.com/hark-lang/hark/pkg/testutil"
)

func newCtrl(t *testing.T) ctrl.Controller {
	t.Helper()
	c, err := boltctrl.Open(filepath.Join(testutil.TempDir(t), "hark.db"),
		"test-session", boltctrl.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBoltController(t *testing.T) {
	harktest.TestController(t, newCtrl)
}

func TestBoltScenarios(t *testing.T) {
	harktest.TestScenarios(t, newCtrl)
}

func TestStateSurvivesReopen(t *testing.T) {
	dbpath := filepath.Join(testutil.TempDir(t), "hark.db")
	model, err := compile.Compile(harktest.Prog(
		harktest.Fn("g", nil, harktest.Int(7))))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	c, err := boltctrl.Open(dbpath, "session", boltctrl.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tid, fid, err := c.NewThread("g", nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	if _, err := c.Resolve(fid, vals.Int(7)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A new process attaching to the same session sees everything,
	// including resolved futures: they stay readable for the whole session.
	c2, err := boltctrl.Open(dbpath, "session", boltctrl.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if _, err := c2.Code(); err != nil {
		t.Fatalf("code after reopen: %v", err)
	}
	th, err := c2.Thread(tid)
	if err != nil {
		t.Fatalf("thread after reopen: %v", err)
	}
	if th.State != machine.Ready {
		t.Errorf("state = %s, want ready", th.State)
	}
	f, err := c2.ReadFuture(fid)
	if err != nil {
		t.Fatalf("future after reopen: %v", err)
	}
	if !f.Resolved || !vals.Equal(f.Value.V, vals.Int(7)) {
		t.Errorf("future = %+v, want resolved 7", f)
	}
	// Identifier counters continue instead of restarting.
	tid2, fid2, err := c2.NewThread("g", nil)
	if err != nil {
		t.Fatalf("new thread after reopen: %v", err)
	}
	if tid2 <= tid || fid2 <= fid {
		t.Errorf("ids restarted: %d/%d after %d/%d", tid2, fid2, tid, fid)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	dbpath := filepath.Join(testutil.TempDir(t), "hark.db")
	model, err := compile.Compile(harktest.Prog(
		harktest.Fn("g", nil, harktest.Int(7))))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	a, err := boltctrl.Open(dbpath, "a", boltctrl.Options{})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	if err := a.SeedCode(model); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	tid, _, err := a.NewThread("g", nil)
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	// bbolt locks the database file while it is open; release it before
	// attaching to the second session.
	if err := a.Close(); err != nil {
		t.Fatalf("close a: %v", err)
	}

	b, err := boltctrl.Open(dbpath, "b", boltctrl.Options{})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()
	if _, err := b.Code(); !errors.Is(err, ctrl.ErrNoCode) {
		t.Errorf("session b sees session a's code: err = %v", err)
	}
	if _, err := b.Thread(tid); !errors.Is(err, ctrl.ErrNoSuchThread) {
		t.Errorf("session b sees session a's thread: err = %v", err)
	}
}

func TestBoltLeaseExpiryReclaim(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	c, err := boltctrl.Open(filepath.Join(testutil.TempDir(t), "hark.db"),
		"session", boltctrl.Options{LeaseTimeout: time.Second, Clock: clock})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	model, cerr := compile.Compile(harktest.Prog(
		harktest.Fn("g", nil, harktest.Int(7))))
	if cerr != nil {
		t.Fatalf("compile: %v", cerr)
	}
	if err := c.SeedCode(model); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tid, _, _ := c.NewThread("g", nil)

	first, err := c.LeaseReady()
	if err != nil || first == nil {
		t.Fatalf("first lease: %v %v", first, err)
	}
	if l, _ := c.LeaseReady(); l != nil {
		t.Fatalf("running thread leased twice")
	}

	now = now.Add(2 * time.Second)
	second, err := c.LeaseReady()
	if err != nil || second == nil {
		t.Fatalf("expired lease not reclaimed: %v %v", second, err)
	}

	cm := ctrl.Commit{Thread: tid, Token: first.Token,
		Snap:    ctrl.Snapshot{Fn: first.Thread.Fn, IP: first.Thread.IP},
		Outcome: ctrl.Yield}
	if _, err := c.CommitStep(cm); !errors.Is(err, ctrl.ErrLeaseLost) {
		t.Errorf("stale commit: err = %v, want ErrLeaseLost", err)
	}
	cm.Token = second.Token
	if _, err := c.CommitStep(cm); err != nil {
		t.Errorf("fresh commit: %v", err)
	}
}
