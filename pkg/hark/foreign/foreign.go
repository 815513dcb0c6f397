// Package foreign implements the bridge that lets named host procedures
// appear as callable functions.
//
// Procedures are registered explicitly by qualified name and arity; there is
// no reflective discovery. Calls are synchronous from the executor's
// perspective and must not re-enter the controller.
package foreign

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Call carries the arguments of one foreign invocation. Anything written to
// Output joins the captured program output of the calling thread.
type Call struct {
	Args   []Value
	Output io.Writer
}

// Value is the runtime value type, aliased for brevity in host code.
type Value = vals.Value

// Fn is a host procedure. It must return a value or an error; it may not
// block indefinitely.
type Fn func(call Call) (Value, error)

type binding struct {
	arity int
	fn    Fn
}

// ErrTimeout is returned when a host procedure exceeds the registry's call
// ceiling.
var ErrTimeout = errors.New("foreign call exceeded time ceiling")

// Registry maps qualified names (e.g. "pysrc.main/random_sleep") to host
// procedures.
type Registry struct {
	mu sync.Mutex
	// Ceiling bounds the run time of a single call; zero means no bound.
	ceiling  time.Duration
	bindings map[string]binding
}

// NewRegistry creates an empty registry with the given call ceiling; a zero
// ceiling leaves calls unbounded.
func NewRegistry(ceiling time.Duration) *Registry {
	return &Registry{ceiling: ceiling, bindings: make(map[string]binding)}
}

// Register adds a host procedure under a qualified name. Registering the same
// name twice replaces the earlier binding.
func (r *Registry) Register(name string, arity int, fn Fn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[name] = binding{arity, fn}
}

// Lookup reports whether a name is registered and with which arity.
func (r *Registry) Lookup(name string) (arity int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[name]
	return b.arity, ok
}

// Invoke calls the named procedure. It enforces arity, applies the call
// ceiling, and converts a panic in the host procedure into an error.
func (r *Registry) Invoke(name string, call Call) (Value, error) {
	r.mu.Lock()
	b, ok := r.bindings[name]
	ceiling := r.ceiling
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("foreign %q is not registered", name)
	}
	if len(call.Args) != b.arity {
		return nil, fmt.Errorf("foreign %q wants %d arguments, got %d", name, b.arity, len(call.Args))
	}
	if ceiling <= 0 {
		return invoke(b.fn, call)
	}

	type result struct {
		v   Value
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := invoke(b.fn, call)
		ch <- result{v, err}
	}()
	timer := time.NewTimer(ceiling)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.v, res.err
	case <-timer.C:
		// The host goroutine is abandoned; a procedure that blocks forever
		// is a programming error on the host side.
		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, name, ceiling)
	}
}

func invoke(fn Fn, call Call) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host panic: %v", r)
		}
	}()
	return fn(call)
}
