package boltctrl

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

func (c *BoltController) getThread(tx *bolt.Tx, tid machine.ThreadID) (*machine.Thread, error) {
	b, err := c.table(tx, bucketThreads)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %d", ctrl.ErrNoSuchThread, tid)
	}
	data := b.Get(marshalID(uint64(tid)))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ctrl.ErrNoSuchThread, tid)
	}
	var t machine.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: thread %d: %v", ctrl.ErrCorruptState, tid, err)
	}
	return &t, nil
}

// putThread writes a thread record, enforcing the version it was based on.
// The stored version must still match t.Version; the write bumps it.
func (c *BoltController) putThread(tx *bolt.Tx, t *machine.Thread) error {
	b, err := c.table(tx, bucketThreads)
	if err != nil {
		return err
	}
	key := marshalID(uint64(t.ID))
	if data := b.Get(key); data != nil {
		var stored machine.Thread
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("%w: thread %d: %v", ctrl.ErrCorruptState, t.ID, err)
		}
		if stored.Version != t.Version {
			return fmt.Errorf("%w: thread %d version %d moved to %d",
				ctrl.ErrCorruptState, t.ID, t.Version, stored.Version)
		}
	}
	t.Version++
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (c *BoltController) getFuture(tx *bolt.Tx, fid machine.FutureID) (*machine.Future, error) {
	b, err := c.table(tx, bucketFutures)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %d", ctrl.ErrNoSuchFuture, fid)
	}
	data := b.Get(marshalID(uint64(fid)))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ctrl.ErrNoSuchFuture, fid)
	}
	var f machine.Future
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: future %d: %v", ctrl.ErrCorruptState, fid, err)
	}
	return &f, nil
}

func (c *BoltController) putFuture(tx *bolt.Tx, f *machine.Future) error {
	b, err := c.table(tx, bucketFutures)
	if err != nil {
		return err
	}
	key := marshalID(uint64(f.ID))
	if data := b.Get(key); data != nil {
		var stored machine.Future
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("%w: future %d: %v", ctrl.ErrCorruptState, f.ID, err)
		}
		if stored.Version != f.Version {
			return fmt.Errorf("%w: future %d version %d moved to %d",
				ctrl.ErrCorruptState, f.ID, f.Version, stored.Version)
		}
	}
	f.Version++
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// createThread creates a future and a ready thread with the given ids, within
// a transaction. The code model is passed in by the caller: it must be loaded
// before the transaction opens, since a nested read transaction can deadlock
// bolt.
func (c *BoltController) createThread(tx *bolt.Tx, model *code.Model, tid machine.ThreadID, fid machine.FutureID, fn string, args []vals.Value) error {
	info, ok := model.Func(fn)
	if !ok {
		return fmt.Errorf("%w: %s", ctrl.ErrUndefinedFunction, fn)
	}
	if len(args) != info.Arity {
		return fmt.Errorf("%w: %s wants %d, got %d", ctrl.ErrArity, fn, info.Arity, len(args))
	}

	threads, err := c.table(tx, bucketThreads)
	if err != nil {
		return err
	}
	futures, err := c.table(tx, bucketFutures)
	if err != nil {
		return err
	}
	if threads.Get(marshalID(uint64(tid))) != nil {
		return fmt.Errorf("%w: thread %d already exists", ctrl.ErrCorruptState, tid)
	}
	if futures.Get(marshalID(uint64(fid))) != nil {
		return fmt.Errorf("%w: future %d already exists", ctrl.ErrCorruptState, fid)
	}

	locals := make(machine.Bindings, len(args))
	for i, p := range info.Params {
		locals[p] = args[i]
	}
	fdata, err := json.Marshal(&machine.Future{ID: fid})
	if err != nil {
		return err
	}
	if err := futures.Put(marshalID(uint64(fid)), fdata); err != nil {
		return err
	}
	tdata, err := json.Marshal(&machine.Thread{
		ID: tid, State: machine.Ready,
		Fn: fn, IP: info.Entry, Locals: locals,
		Terminal: fid,
	})
	if err != nil {
		return err
	}
	return threads.Put(marshalID(uint64(tid)), tdata)
}
