// Package code defines the instruction set of the Hark abstract machine and
// the code model produced by the compiler.
package code

import (
	"strconv"

	"github.com/hark-lang/hark/pkg/hark/vals"
)

// Op identifies an instruction.
type Op uint8

// The instruction set. Each op documents its effect on the operand stack;
// "a, b → r" means b is popped first.
const (
	Nop Op = iota

	PushV // push the value bound to Sym, falling back to the symbol table
	PushL // push the literal Val
	Bind  // pop a value and bind it to Sym in the local bindings
	Pop   // pop and discard

	Jump      // ip += Num
	JumpIfNot // pop c; if c is not truthy, ip += Num

	Call  // args..., callee → push frame, enter callee (Num args)
	CallF // args..., callee → invoke foreign synchronously, push result
	ACall // args..., callee → spawn thread for callee, push fresh future
	Wait  // future → value if resolved; suspend otherwise

	Return // return the top of stack to the caller frame, or finish the thread

	Add // a, b → a+b
	Sub // a, b → a-b
	Mul // a, b → a*b
	Div // a, b → a/b; division by zero errors
	Neg // a → -a
	Eq  // a, b → a==b (structural)
	Lt  // a, b → a<b (numeric)
	Gt  // a, b → a>b (numeric)
	And // a, b → a&&b (booleans)
	Or  // a, b → a||b (booleans)
	Not // a → !a (boolean)

	ListNew    // e1..eN → list of Num elements
	ListGet    // list, index → element
	ListCat    // a, b → concatenation; Null acts as the empty list
	ListCons   // e, list → list with e prepended
	ListAppend // list, e → list with e appended
	ListFirst  // list → first element
	ListRest   // list → all but the first element
	ListLen    // list → length
	Atomp      // v → true iff v is not a list
	Nullp      // v → true iff v is Null or an empty list

	RecordNew // k1, v1, ... kN, vN → record of Num fields
	RecordGet // record, key → field value

	Print // v → v; appends the textual form to the run output
	Sleep // seconds → Null; pauses the executor
)

var opNames = [...]string{
	Nop: "nop", PushV: "pushv", PushL: "pushl", Bind: "bind", Pop: "pop",
	Jump: "jump", JumpIfNot: "jumpifnot",
	Call: "call", CallF: "callf", ACall: "acall", Wait: "wait", Return: "return",
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Neg: "neg",
	Eq: "eq", Lt: "lt", Gt: "gt", And: "and", Or: "or", Not: "not",
	ListNew: "listnew", ListGet: "listget", ListCat: "listcat",
	ListCons: "listcons", ListAppend: "listappend", ListFirst: "listfirst",
	ListRest: "listrest", ListLen: "listlen", Atomp: "atomp", Nullp: "nullp",
	RecordNew: "recordnew", RecordGet: "recordget",
	Print: "print", Sleep: "sleep",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// Instr is one instruction. Which operand fields are meaningful depends on
// the op: Sym for PushV and Bind, Val for PushL, Num for jumps (a relative
// offset from the next instruction) and for the argument or element count of
// calls and constructors.
type Instr struct {
	Op  Op
	Sym string
	Val vals.Value
	Num int
}

// String returns a one-line disassembly of the instruction.
func (i Instr) String() string {
	switch i.Op {
	case PushV, Bind:
		return i.Op.String() + " " + i.Sym
	case PushL:
		return i.Op.String() + " " + vals.Repr(i.Val)
	case Jump, JumpIfNot, Call, CallF, ACall, ListNew, RecordNew:
		return i.Op.String() + " " + strconv.Itoa(i.Num)
	default:
		return i.Op.String()
	}
}
