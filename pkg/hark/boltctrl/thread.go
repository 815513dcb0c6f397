package boltctrl

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

var _ ctrl.Controller = (*BoltController)(nil)

// NewThread allocates identifiers and creates a ready thread with its
// terminal future.
func (c *BoltController) NewThread(fn string, args []vals.Value) (machine.ThreadID, machine.FutureID, error) {
	model, err := c.Code()
	if err != nil {
		return 0, 0, err
	}
	var tid machine.ThreadID
	var fid machine.FutureID
	err = c.db.Update(func(tx *bolt.Tx) error {
		t, err := c.nextCounter(tx, "thread")
		if err != nil {
			return err
		}
		f, err := c.nextCounter(tx, "future")
		if err != nil {
			return err
		}
		tid, fid = machine.ThreadID(t), machine.FutureID(f)
		return c.createThread(tx, model, tid, fid, fn, args)
	})
	if err != nil {
		return 0, 0, err
	}
	return tid, fid, nil
}

// LeaseReady picks the lowest-id ready thread, or reclaims one whose lease
// expired, and marks it running.
func (c *BoltController) LeaseReady() (*ctrl.Lease, error) {
	var lease *ctrl.Lease
	now := c.clock()
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := c.table(tx, bucketThreads)
		if err != nil {
			return err
		}
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			t, err := c.getThread(tx, machine.ThreadID(unmarshalID(k)))
			if err != nil {
				return err
			}
			expired := t.State == machine.Running && now.After(t.LeaseDeadline)
			if t.State != machine.Ready && !expired {
				continue
			}
			token, err := c.nextCounter(tx, "token")
			if err != nil {
				return err
			}
			t.State = machine.Running
			t.LeaseToken = token
			t.LeaseDeadline = now.Add(c.leaseTimeout)
			if err := c.putThread(tx, t); err != nil {
				return err
			}
			lease = &ctrl.Lease{Thread: t.Clone(), Token: token,
				Deadline: t.LeaseDeadline.UnixNano()}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// CommitStep applies one step atomically. See ctrl.Controller for the
// contract.
func (c *BoltController) CommitStep(cm ctrl.Commit) ([]machine.ThreadID, error) {
	var model *code.Model
	if len(cm.Spawns) > 0 {
		var err error
		if model, err = c.Code(); err != nil {
			return nil, err
		}
	}
	var woken []machine.ThreadID
	err := c.db.Update(func(tx *bolt.Tx) error {
		t, err := c.getThread(tx, cm.Thread)
		if err != nil {
			return err
		}
		if cm.Token != 0 && cm.Token == t.LastToken {
			// Retried commit of a step that already succeeded.
			return nil
		}
		if t.State != machine.Running || t.LeaseToken != cm.Token {
			return ctrl.ErrLeaseLost
		}

		// The transaction aborts as a whole on any error below, so there is
		// no partial application to guard against.
		t.Fn = cm.Snap.Fn
		t.IP = cm.Snap.IP
		t.Stack = cm.Snap.Stack
		t.Locals = cm.Snap.Locals
		t.Frames = cm.Snap.Frames

		if err := c.appendOutput(tx, cm.Output); err != nil {
			return err
		}
		for _, s := range cm.Spawns {
			if err := c.createThread(tx, model, s.Thread, s.Future, s.Fn, s.Args); err != nil {
				return err
			}
		}
		for _, r := range cm.Resolutions {
			chain, err := c.resolve(tx, r.Future, r.Value.V)
			if err != nil {
				return err
			}
			woken = append(woken, chain...)
		}

		switch cm.Outcome {
		case ctrl.Yield:
			t.State = machine.Ready
		case ctrl.Block:
			f, err := c.getFuture(tx, cm.BlockOn)
			if err != nil {
				return err
			}
			t.State = machine.Waiting
			t.WaitingOn = cm.BlockOn
			if f.Resolved {
				// Resolved between the executor's read and this commit;
				// unblock right away instead of stranding the thread.
				t.LastToken = cm.Token
				t.LeaseToken = 0
				if err := c.putThread(tx, t); err != nil {
					return err
				}
				return c.wake(tx, cm.Thread)
			}
			f.Chain = append(f.Chain, cm.Thread)
			if err := c.putFuture(tx, f); err != nil {
				return err
			}
		case ctrl.Finish:
			t.State = machine.Finished
		case ctrl.Error:
			t.State = machine.Errored
			t.Err = cm.Err
		default:
			return fmt.Errorf("%w: bad outcome %q", ctrl.ErrCorruptState, cm.Outcome)
		}

		t.LastToken = cm.Token
		t.LeaseToken = 0
		return c.putThread(tx, t)
	})
	if err != nil {
		return nil, err
	}
	return woken, nil
}

// Wake unblocks waiting threads whose futures have resolved.
func (c *BoltController) Wake(ids []machine.ThreadID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, id := range ids {
			if err := c.wake(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// wake unblocks one thread within a transaction, cascading errors through
// its terminal future.
func (c *BoltController) wake(tx *bolt.Tx, id machine.ThreadID) error {
	work := []machine.ThreadID{id}
	for len(work) > 0 {
		tid := work[0]
		work = work[1:]
		t, err := c.getThread(tx, tid)
		if err != nil {
			return err
		}
		if t.State != machine.Waiting {
			continue
		}
		f, err := c.getFuture(tx, t.WaitingOn)
		if err != nil {
			return err
		}
		if !f.Resolved {
			return fmt.Errorf("%w: thread %d waiting on unresolved future",
				ctrl.ErrCorruptState, tid)
		}
		t.WaitingOn = 0
		if errVal, isErr := machine.ErrorFromValue(f.Value.V); isErr {
			perr := errVal.Propagated(tid)
			t.State = machine.Errored
			t.Err = perr
			if err := c.putThread(tx, t); err != nil {
				return err
			}
			chain, err := c.resolve(tx, t.Terminal, perr.Value())
			if err != nil {
				return err
			}
			work = append(work, chain...)
			continue
		}
		if len(t.Stack) == 0 {
			return fmt.Errorf("%w: thread %d woke with empty stack",
				ctrl.ErrCorruptState, tid)
		}
		t.Stack[len(t.Stack)-1] = f.Value.V
		t.State = machine.Ready
		if err := c.putThread(tx, t); err != nil {
			return err
		}
	}
	return nil
}

// Thread returns a copy of a thread record.
func (c *BoltController) Thread(tid machine.ThreadID) (*machine.Thread, error) {
	var t *machine.Thread
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = c.getThread(tx, tid)
		return err
	})
	return t, err
}
