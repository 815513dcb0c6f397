// Package boltctrl implements the data controller on a bbolt database, the
// durable backend used in distributed mode.
//
// Each session's tables live in buckets nested under the table buckets, keyed
// by session name; record keys are big-endian identifiers so that cursor
// order is identifier order. Records are JSON and carry a version; every
// read-modify-write checks the version it was based on. bbolt locks the
// database file, so only one process at a time holds it open; other processes
// reach the state through the controller service.
package boltctrl

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hark-lang/hark/pkg/hark/code"
)

const (
	bucketThreads  = "threads"
	bucketFutures  = "futures"
	bucketCode     = "code"
	bucketCounters = "counters"
	bucketOutput   = "output"
)

var initDB = map[string]func(tx *bolt.Tx) error{}

func init() {
	for _, name := range []string{
		bucketThreads, bucketFutures, bucketCode, bucketCounters, bucketOutput,
	} {
		name := name
		initDB["initialize "+name+" table"] = func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(name))
			return err
		}
	}
}

// Options configures a bolt controller.
type Options struct {
	// LeaseTimeout is how long a lease stays valid. Defaults to 10 seconds.
	LeaseTimeout time.Duration
	// Clock overrides the time source. Used in tests.
	Clock func() time.Time
}

// BoltController is a Controller over one session of a bbolt database.
type BoltController struct {
	db      *bolt.DB
	session []byte
	ownsDB  bool

	leaseTimeout time.Duration
	clock        func() time.Time

	// The code model is immutable after seeding, so it is cached after the
	// first load.
	mu     sync.Mutex
	cached *code.Model
}

// Open opens (creating if necessary) a database file and attaches to the
// named session.
func Open(dbname, session string, opts Options) (*BoltController, error) {
	db, err := bolt.Open(dbname, 0644, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c, err := NewWithDB(db, session, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewWithDB attaches to the named session of an already open database.
func NewWithDB(db *bolt.DB, session string, opts Options) (*BoltController, error) {
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &BoltController{
		db:           db,
		session:      []byte(session),
		leaseTimeout: opts.LeaseTimeout,
		clock:        opts.Clock,
	}
	err := db.Update(func(tx *bolt.Tx) error {
		for name, fn := range initDB {
			if err := fn(tx); err != nil {
				return fmt.Errorf("failed to %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database if this controller opened it.
func (c *BoltController) Close() error {
	if c.ownsDB {
		return c.db.Close()
	}
	return nil
}

// table returns this session's nested bucket of a table, creating it if the
// transaction is writable.
func (c *BoltController) table(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	parent := tx.Bucket([]byte(name))
	if parent == nil {
		return nil, fmt.Errorf("table %s missing", name)
	}
	if tx.Writable() {
		return parent.CreateBucketIfNotExists(c.session)
	}
	b := parent.Bucket(c.session)
	if b == nil {
		return nil, nil
	}
	return b, nil
}

func marshalID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func unmarshalID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// nextCounter bumps a named per-session counter and returns the new value.
func (c *BoltController) nextCounter(tx *bolt.Tx, name string) (uint64, error) {
	b, err := c.table(tx, bucketCounters)
	if err != nil {
		return 0, err
	}
	var n uint64
	if v := b.Get([]byte(name)); v != nil {
		n = unmarshalID(v)
	}
	n++
	return n, b.Put([]byte(name), marshalID(n))
}
