// Package ctrl defines the data controller, the sole authority over
// persistent runtime state, and provides the in-memory reference
// implementation.
//
// Every operation of a Controller appears atomic to other operations. The
// same sequence of calls must produce identical program results whether the
// controller is the in-memory one or a durable one (see package boltctrl).
package ctrl

import (
	"errors"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Errors returned by controller operations. These are protocol-level errors,
// not user-program errors; the scheduler retries or aborts on them.
var (
	// ErrLeaseLost means a commit was attempted with a stale or voided lease.
	ErrLeaseLost = errors.New("lease lost")
	// ErrDoubleResolve means a future was resolved a second time.
	ErrDoubleResolve = errors.New("future already resolved")
	// ErrNoSuchThread means a thread id did not resolve to a thread.
	ErrNoSuchThread = errors.New("no such thread")
	// ErrNoSuchFuture means a future id did not resolve to a future.
	ErrNoSuchFuture = errors.New("no such future")
	// ErrNoCode means the controller has not been seeded with a code model.
	ErrNoCode = errors.New("no code seeded")
	// ErrUndefinedFunction means a thread was requested for an unknown function.
	ErrUndefinedFunction = errors.New("undefined function")
	// ErrArity means a thread was requested with the wrong number of arguments.
	ErrArity = errors.New("wrong number of arguments")
	// ErrCorruptState means a record failed an internal consistency check.
	ErrCorruptState = errors.New("corrupt controller state")
)

// Snapshot is the per-thread state written back by a commit.
type Snapshot struct {
	Fn     string           `json:"fn"`
	IP     int              `json:"ip"`
	Stack  machine.Stack    `json:"stack"`
	Locals machine.Bindings `json:"locals"`
	Frames []machine.Frame  `json:"frames,omitempty"`
}

// Lease grants its holder the exclusive right to step a thread until the
// deadline. Thread is a private deep copy of the thread record.
type Lease struct {
	Thread   *machine.Thread
	Token    uint64
	Deadline int64 // unix nanoseconds
}

// Outcome says how a step ended.
type Outcome string

const (
	// Yield: the step budget expired; the thread stays ready.
	Yield Outcome = "yield"
	// Block: the thread hit Wait on an unresolved future.
	Block Outcome = "block"
	// Finish: the thread returned from its root frame.
	Finish Outcome = "finish"
	// Error: the thread stopped on a runtime error.
	Error Outcome = "error"
)

// Spawn asks the controller to create one thread and its terminal future,
// with identifiers the executor reserved during the step.
type Spawn struct {
	Thread machine.ThreadID `json:"thread"`
	Future machine.FutureID `json:"future"`
	Fn     string           `json:"fn"`
	Args   machine.Stack    `json:"args"`
}

// Resolution asks the controller to resolve one future.
type Resolution struct {
	Future machine.FutureID `json:"future"`
	Value  vals.Box         `json:"value"`
}

// Commit carries everything a step produced. It is applied atomically, or not
// at all: spawned threads, resolutions and output only exist once the commit
// succeeds, so a step lost to a lease timeout leaves no trace.
type Commit struct {
	Thread machine.ThreadID `json:"thread"`
	Token  uint64           `json:"token"`
	Snap   Snapshot         `json:"snap"`

	Outcome Outcome          `json:"outcome"`
	BlockOn machine.FutureID `json:"blockOn,omitempty"`
	Err     *machine.Error   `json:"err,omitempty"`

	Spawns      []Spawn               `json:"spawns,omitempty"`
	Resolutions []Resolution          `json:"resolutions,omitempty"`
	Output      []machine.OutputEntry `json:"output,omitempty"`
}

// Controller is the transactional store of threads, futures, activation
// frames and the code model.
type Controller interface {
	// SeedCode stores the code model. It must be called exactly once, before
	// any threads are created; the model is immutable afterwards.
	SeedCode(m *code.Model) error
	// Code returns the seeded code model.
	Code() (*code.Model, error)

	// NewThread allocates a future, creates a ready thread at the entry of
	// the named function with the arguments pre-bound, and attaches the
	// future as the thread's terminal future.
	NewThread(fn string, args []vals.Value) (machine.ThreadID, machine.FutureID, error)

	// ReserveIDs hands out a fresh (thread, future) identifier pair without
	// creating any records. Reserved identifiers that are never committed are
	// simply wasted, which keeps spawning safe under at-least-once stepping.
	ReserveIDs() (machine.ThreadID, machine.FutureID, error)

	// LeaseReady atomically picks a ready thread (or reclaims one whose lease
	// expired), marks it running and returns a lease over a snapshot of it.
	// It returns nil when no thread is ready.
	LeaseReady() (*Lease, error)

	// CommitStep writes back a step. It fails with ErrLeaseLost unless the
	// caller still holds the thread's lease; re-committing the same token
	// after a success is a no-op. It returns the ids of threads unblocked by
	// the commit's resolutions, which the caller should pass to Wake.
	CommitStep(c Commit) ([]machine.ThreadID, error)

	// Resolve sets a future's value and returns its chain, clearing it.
	// Resolving twice fails with ErrDoubleResolve and does not mutate state.
	Resolve(f machine.FutureID, v vals.Value) ([]machine.ThreadID, error)

	// Wake transitions each waiting thread back to ready, injecting the
	// resolved value of the awaited future where the Wait suspended. Threads
	// that are not waiting are skipped, so Wake tolerates repeats. If the
	// resolved value is an error value the thread becomes errored instead and
	// the error cascades to its own awaiters.
	Wake(ids []machine.ThreadID) error

	// ReadFuture returns a copy of a future record.
	ReadFuture(f machine.FutureID) (*machine.Future, error)
	// Thread returns a copy of a thread record.
	Thread(id machine.ThreadID) (*machine.Thread, error)

	// Outputs returns the captured program output in append order.
	Outputs() ([]machine.OutputEntry, error)

	// Close releases resources held by the controller.
	Close() error
}
