package machine

import (
	"fmt"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// ErrorKind classifies runtime errors raised by executing program code.
type ErrorKind string

const (
	TypeMismatch      ErrorKind = "type-mismatch"
	ArityMismatch     ErrorKind = "arity-mismatch"
	UnboundName       ErrorKind = "unbound-name"
	UndefinedFunction ErrorKind = "undefined-function"
	DivisionByZero    ErrorKind = "division-by-zero"
	ForeignError      ErrorKind = "foreign-error"
	MalformedCode     ErrorKind = "malformed-code"
	// ControllerUnavailable is not a user error: the executor surfaces it to
	// the scheduler, which retries or aborts the run.
	ControllerUnavailable ErrorKind = "controller-unavailable"
)

// Error is a runtime error raised while executing program code. It travels in
// two forms: as the Err field of an errored thread, and as a vals.Err value
// resolving the thread's terminal future so that awaiters can propagate it.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Origin is the thread where the error first occurred; Trail lists the
	// threads that propagated it through await, in order.
	Origin ThreadID   `json:"origin"`
	Trail  []ThreadID `json:"trail,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Clone copies the error.
func (e *Error) Clone() *Error {
	c := *e
	c.Trail = append([]ThreadID(nil), e.Trail...)
	return &c
}

// Propagated returns a copy of the error with the propagating thread appended
// to the trail.
func (e *Error) Propagated(through ThreadID) *Error {
	c := e.Clone()
	c.Trail = append(c.Trail, through)
	return c
}

// Value converts the error to the distinguished error value.
func (e *Error) Value() vals.Err {
	trail := make([]uint64, len(e.Trail))
	for i, t := range e.Trail {
		trail[i] = uint64(t)
	}
	return vals.Err{ErrKind: string(e.Kind), Message: e.Message,
		Origin: uint64(e.Origin), Trail: trail}
}

// ErrorFromValue recovers an Error from a value, reporting whether the value
// is an error value.
func ErrorFromValue(v vals.Value) (*Error, bool) {
	ev, ok := v.(vals.Err)
	if !ok {
		return nil, false
	}
	trail := make([]ThreadID, len(ev.Trail))
	for i, t := range ev.Trail {
		trail[i] = ThreadID(t)
	}
	return &Error{Kind: ErrorKind(ev.ErrKind), Message: ev.Message,
		Origin: ThreadID(ev.Origin), Trail: trail}, true
}
