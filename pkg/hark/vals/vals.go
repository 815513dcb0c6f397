// Package vals contains basic facilities for manipulating values used in the
// Hark runtime.
//
// Values are immutable: operations that "modify" a list or record build a new
// one. Reference values (FuncRef, ForeignRef, FutureRef) carry identifiers
// only, never pointers into executor state, so they stay valid across
// suspension and remote transport.
package vals

// Value is the runtime representation of a Hark value. It is implemented by
// Int, Float, Bool, Str, Sym, List, Record, FuncRef, ForeignRef, FutureRef,
// Null and Err.
type Value interface {
	// Kind returns the name of the value's variant.
	Kind() string
}

// Int is a 64-bit signed integer value.
type Int int64

// Float is a double-precision floating point value.
type Float float64

// Bool is a boolean value.
type Bool bool

// Str is a UTF-8 string value.
type Str string

// Sym is an interned name. Record keys and bound names are symbols.
type Sym string

// List is an ordered sequence of values.
type List []Value

// Record maps symbol names to values. Insertion order is irrelevant.
type Record map[string]Value

// FuncRef refers to a function in the code model by name.
type FuncRef struct {
	Name  string
	Arity int
}

// ForeignRef refers to a procedure registered with the foreign bridge.
type ForeignRef struct {
	Name  string
	Arity int
}

// FutureRef is an opaque handle to a future held by the controller.
type FutureRef struct {
	ID uint64
}

// Null is the null value.
type Null struct{}

// Err is the distinguished error value used to resolve the terminal future of
// an errored thread, so that awaiters unblock and propagate the error.
type Err struct {
	ErrKind string
	Message string
	// Origin is the thread where the error first occurred; Trail lists the
	// threads that propagated it through await, in order.
	Origin uint64
	Trail  []uint64
}

func (Int) Kind() string        { return "integer" }
func (Float) Kind() string      { return "float" }
func (Bool) Kind() string       { return "boolean" }
func (Str) Kind() string        { return "string" }
func (Sym) Kind() string        { return "symbol" }
func (List) Kind() string       { return "list" }
func (Record) Kind() string     { return "record" }
func (FuncRef) Kind() string    { return "function" }
func (ForeignRef) Kind() string { return "foreign" }
func (FutureRef) Kind() string  { return "future" }
func (Null) Kind() string       { return "null" }
func (Err) Kind() string        { return "error" }

// Truth returns the truthiness of a value: false for Bool(false) and Null,
// true for everything else.
func Truth(v Value) bool {
	switch v := v.(type) {
	case Bool:
		return bool(v)
	case Null:
		return false
	default:
		return true
	}
}

// Kind returns the kind of v, handling a nil interface gracefully.
func Kind(v Value) string {
	if v == nil {
		return "null"
	}
	return v.Kind()
}
