package boltctrl

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/ctrl"
	"github.com/hark-lang/hark/pkg/hark/machine"
)

var codeKey = []byte("model")

// SeedCode stores the code model for this session. It fails if the session
// was already seeded.
func (c *BoltController) SeedCode(m *code.Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode code model: %w", err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		b, err := c.table(tx, bucketCode)
		if err != nil {
			return err
		}
		if b.Get(codeKey) != nil {
			return fmt.Errorf("code already seeded")
		}
		return b.Put(codeKey, data)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cached = m
	c.mu.Unlock()
	return nil
}

// Code returns the session's code model, loading it on first use.
func (c *BoltController) Code() (*code.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return c.cached, nil
	}
	var m code.Model
	err := c.db.View(func(tx *bolt.Tx) error {
		b, err := c.table(tx, bucketCode)
		if err != nil {
			return err
		}
		if b == nil {
			return ctrl.ErrNoCode
		}
		data := b.Get(codeKey)
		if data == nil {
			return ctrl.ErrNoCode
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	c.cached = &m
	return c.cached, nil
}

// ReserveIDs bumps the identifier counters without creating records.
func (c *BoltController) ReserveIDs() (machine.ThreadID, machine.FutureID, error) {
	var tid, fid uint64
	err := c.db.Update(func(tx *bolt.Tx) error {
		var err error
		if tid, err = c.nextCounter(tx, "thread"); err != nil {
			return err
		}
		fid, err = c.nextCounter(tx, "future")
		return err
	})
	return machine.ThreadID(tid), machine.FutureID(fid), err
}

// appendOutput adds entries to the session's output log within a transaction.
func (c *BoltController) appendOutput(tx *bolt.Tx, entries []machine.OutputEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b, err := c.table(tx, bucketOutput)
	if err != nil {
		return err
	}
	for _, e := range entries {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(marshalID(seq), data); err != nil {
			return err
		}
	}
	return nil
}

// Outputs returns the captured program output in append order.
func (c *BoltController) Outputs() ([]machine.OutputEntry, error) {
	var out []machine.OutputEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		b, err := c.table(tx, bucketOutput)
		if err != nil || b == nil {
			return err
		}
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var e machine.OutputEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
