package boltctrl

import (
	bolt "go.etcd.io/bbolt"

	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Resolve sets a future's value and returns its cleared chain.
func (c *BoltController) Resolve(fid machine.FutureID, v vals.Value) ([]machine.ThreadID, error) {
	var chain []machine.ThreadID
	err := c.db.Update(func(tx *bolt.Tx) error {
		var err error
		chain, err = c.resolve(tx, fid, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// resolve transitions a future to resolved within a transaction.
func (c *BoltController) resolve(tx *bolt.Tx, fid machine.FutureID, v vals.Value) ([]machine.ThreadID, error) {
	f, err := c.getFuture(tx, fid)
	if err != nil {
		return nil, err
	}
	if f.Resolved {
		return nil, ctrl.ErrDoubleResolve
	}
	f.Resolved = true
	f.Value = vals.Box{V: v}
	chain := f.Chain
	f.Chain = nil
	if err := c.putFuture(tx, f); err != nil {
		return nil, err
	}
	return chain, nil
}

// ReadFuture returns a copy of a future record.
func (c *BoltController) ReadFuture(fid machine.FutureID) (*machine.Future, error) {
	var f *machine.Future
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		f, err = c.getFuture(tx, fid)
		return err
	})
	return f, err
}
