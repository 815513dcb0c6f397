package ctrl

import (
	"fmt"
	"sync"
	"time"

	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// MemOptions configures an in-memory controller.
type MemOptions struct {
	// LeaseTimeout is how long a lease stays valid; an expired lease may be
	// reclaimed by LeaseReady. Defaults to 10 seconds.
	LeaseTimeout time.Duration
	// Clock overrides the time source. Used in tests.
	Clock func() time.Time
}

// MemController is the in-memory reference implementation of Controller. A
// single mutex guards all state; each exported method is one transaction.
type MemController struct {
	mu sync.Mutex

	code    *code.Model
	threads map[machine.ThreadID]*machine.Thread
	futures map[machine.FutureID]*machine.Future
	// Lease scan order; FIFO by creation for debuggability.
	order  []machine.ThreadID
	output []machine.OutputEntry

	nextThread uint64
	nextFuture uint64
	nextToken  uint64

	leaseTimeout time.Duration
	clock        func() time.Time
}

var _ Controller = (*MemController)(nil)

// NewMem creates an in-memory controller.
func NewMem(opts MemOptions) *MemController {
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &MemController{
		threads:      make(map[machine.ThreadID]*machine.Thread),
		futures:      make(map[machine.FutureID]*machine.Future),
		leaseTimeout: opts.LeaseTimeout,
		clock:        opts.Clock,
	}
}

func (c *MemController) SeedCode(m *code.Model) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code != nil {
		return fmt.Errorf("code already seeded")
	}
	c.code = m
	return nil
}

func (c *MemController) Code() (*code.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.code == nil {
		return nil, ErrNoCode
	}
	return c.code, nil
}

func (c *MemController) NewThread(fn string, args []vals.Value) (machine.ThreadID, machine.FutureID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextThread++
	c.nextFuture++
	tid := machine.ThreadID(c.nextThread)
	fid := machine.FutureID(c.nextFuture)
	if err := c.createThread(tid, fid, fn, args); err != nil {
		return 0, 0, err
	}
	return tid, fid, nil
}

func (c *MemController) ReserveIDs() (machine.ThreadID, machine.FutureID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextThread++
	c.nextFuture++
	return machine.ThreadID(c.nextThread), machine.FutureID(c.nextFuture), nil
}

// createThread creates a future and a ready thread with the given ids. Caller
// must hold the mutex.
func (c *MemController) createThread(tid machine.ThreadID, fid machine.FutureID, fn string, args []vals.Value) error {
	if c.code == nil {
		return ErrNoCode
	}
	info, ok := c.code.Func(fn)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUndefinedFunction, fn)
	}
	if len(args) != info.Arity {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrArity, fn, info.Arity, len(args))
	}
	if _, ok := c.threads[tid]; ok {
		return fmt.Errorf("%w: thread %d already exists", ErrCorruptState, tid)
	}
	if _, ok := c.futures[fid]; ok {
		return fmt.Errorf("%w: future %d already exists", ErrCorruptState, fid)
	}
	locals := make(machine.Bindings, len(args))
	for i, p := range info.Params {
		locals[p] = args[i]
	}
	c.futures[fid] = &machine.Future{ID: fid}
	c.threads[tid] = &machine.Thread{
		ID: tid, State: machine.Ready,
		Fn: fn, IP: info.Entry, Locals: locals,
		Terminal: fid,
	}
	c.order = append(c.order, tid)
	return nil
}

func (c *MemController) LeaseReady() (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for _, tid := range c.order {
		t := c.threads[tid]
		expired := t.State == machine.Running && now.After(t.LeaseDeadline)
		if t.State != machine.Ready && !expired {
			continue
		}
		c.nextToken++
		t.State = machine.Running
		t.LeaseToken = c.nextToken
		t.LeaseDeadline = now.Add(c.leaseTimeout)
		t.Version++
		return &Lease{Thread: t.Clone(), Token: c.nextToken,
			Deadline: t.LeaseDeadline.UnixNano()}, nil
	}
	return nil, nil
}

func (c *MemController) CommitStep(cm Commit) ([]machine.ThreadID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[cm.Thread]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchThread, cm.Thread)
	}
	if cm.Token != 0 && cm.Token == t.LastToken {
		// Same step token committed before: at-least-once dispatch retried a
		// step that already succeeded.
		return nil, nil
	}
	if t.State != machine.Running || t.LeaseToken != cm.Token {
		return nil, ErrLeaseLost
	}

	// Validate everything before mutating anything, so a rejected commit
	// leaves no trace.
	if cm.Outcome == Block {
		_, known := c.futures[cm.BlockOn]
		for _, s := range cm.Spawns {
			// Blocking on a future this very commit spawns is allowed.
			known = known || s.Future == cm.BlockOn
		}
		if !known {
			return nil, fmt.Errorf("%w: %d", ErrNoSuchFuture, cm.BlockOn)
		}
	}
	for _, s := range cm.Spawns {
		if _, ok := c.threads[s.Thread]; ok {
			return nil, fmt.Errorf("%w: spawn thread %d already exists", ErrCorruptState, s.Thread)
		}
		if _, ok := c.futures[s.Future]; ok {
			return nil, fmt.Errorf("%w: spawn future %d already exists", ErrCorruptState, s.Future)
		}
	}
	for _, r := range cm.Resolutions {
		f, ok := c.futures[r.Future]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrNoSuchFuture, r.Future)
		}
		if f.Resolved {
			return nil, ErrDoubleResolve
		}
	}

	t.Fn = cm.Snap.Fn
	t.IP = cm.Snap.IP
	t.Stack = cm.Snap.Stack.Clone()
	t.Locals = cm.Snap.Locals.Clone()
	t.Frames = machine.CloneFrames(cm.Snap.Frames)

	for _, s := range cm.Spawns {
		if err := c.createThread(s.Thread, s.Future, s.Fn, s.Args); err != nil {
			return nil, err
		}
	}

	var woken []machine.ThreadID
	for _, r := range cm.Resolutions {
		chain, err := c.resolve(r.Future, r.Value.V)
		if err != nil {
			return nil, err
		}
		woken = append(woken, chain...)
	}

	switch cm.Outcome {
	case Yield:
		t.State = machine.Ready
	case Block:
		f := c.futures[cm.BlockOn]
		t.State = machine.Waiting
		t.WaitingOn = cm.BlockOn
		if f.Resolved {
			// The future resolved between the executor's read and this
			// commit; unblock right away instead of stranding the thread.
			if err := c.wake(cm.Thread); err != nil {
				return nil, err
			}
		} else {
			f.Chain = append(f.Chain, cm.Thread)
			f.Version++
		}
	case Finish:
		t.State = machine.Finished
	case Error:
		t.State = machine.Errored
		t.Err = cm.Err
	default:
		return nil, fmt.Errorf("%w: bad outcome %q", ErrCorruptState, cm.Outcome)
	}

	c.output = append(c.output, cm.Output...)

	t.LastToken = cm.Token
	t.LeaseToken = 0
	t.Version++
	return woken, nil
}

func (c *MemController) Resolve(f machine.FutureID, v vals.Value) ([]machine.ThreadID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(f, v)
}

// resolve transitions a future to resolved and returns its cleared chain.
// Caller must hold the mutex.
func (c *MemController) resolve(fid machine.FutureID, v vals.Value) ([]machine.ThreadID, error) {
	f, ok := c.futures[fid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchFuture, fid)
	}
	if f.Resolved {
		return nil, ErrDoubleResolve
	}
	f.Resolved = true
	f.Value = vals.Box{V: v}
	chain := f.Chain
	f.Chain = nil
	f.Version++
	return chain, nil
}

func (c *MemController) Wake(ids []machine.ThreadID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if err := c.wake(id); err != nil {
			return err
		}
	}
	return nil
}

// wake unblocks one waiting thread, cascading errors through its own
// terminal future. Caller must hold the mutex.
func (c *MemController) wake(id machine.ThreadID) error {
	work := []machine.ThreadID{id}
	for len(work) > 0 {
		tid := work[0]
		work = work[1:]
		t, ok := c.threads[tid]
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoSuchThread, tid)
		}
		if t.State != machine.Waiting {
			continue
		}
		f, ok := c.futures[t.WaitingOn]
		if !ok || !f.Resolved {
			return fmt.Errorf("%w: thread %d waiting on unresolved future", ErrCorruptState, tid)
		}
		t.WaitingOn = 0
		if errVal, isErr := machine.ErrorFromValue(f.Value.V); isErr {
			// Error values flow through await: the waiter errors too, and
			// the error continues to its own awaiters.
			perr := errVal.Propagated(tid)
			t.State = machine.Errored
			t.Err = perr
			t.Version++
			chain, err := c.resolve(t.Terminal, perr.Value())
			if err != nil {
				return err
			}
			work = append(work, chain...)
			continue
		}
		if len(t.Stack) == 0 {
			return fmt.Errorf("%w: thread %d woke with empty stack", ErrCorruptState, tid)
		}
		t.Stack[len(t.Stack)-1] = f.Value.V
		t.State = machine.Ready
		t.Version++
	}
	return nil
}

func (c *MemController) ReadFuture(fid machine.FutureID) (*machine.Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.futures[fid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchFuture, fid)
	}
	return f.Clone(), nil
}

func (c *MemController) Thread(tid machine.ThreadID) (*machine.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[tid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchThread, tid)
	}
	return t.Clone(), nil
}

func (c *MemController) Outputs() ([]machine.OutputEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]machine.OutputEntry(nil), c.output...), nil
}

func (c *MemController) Close() error { return nil }
