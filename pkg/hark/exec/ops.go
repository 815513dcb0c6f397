package exec

import (
	"github.com/hark-lang/hark/pkg/hark/code"
	"github.com/hark-lang/hark/pkg/hark/machine"
	"github.com/hark-lang/hark/pkg/hark/vals"
)

// binaryOp implements the two-operand primitives. Arithmetic promotes to
// Float when either operand is a Float; Add also concatenates strings.
func binaryOp(op code.Op, a, b vals.Value) (vals.Value, *machine.Error) {
	switch op {
	case code.Add:
		if as, ok := a.(vals.Str); ok {
			if bs, ok := b.(vals.Str); ok {
				return as + bs, nil
			}
		}
		return arith(op, a, b)
	case code.Sub, code.Mul, code.Div:
		return arith(op, a, b)
	case code.Eq:
		return vals.Bool(vals.Equal(a, b)), nil
	case code.Lt, code.Gt:
		af, aok := asFloat(a)
		bf, bok := asFloat(b)
		if !aok || !bok {
			return nil, machine.Errorf(machine.TypeMismatch,
				"comparing %s with %s", vals.Kind(a), vals.Kind(b))
		}
		if op == code.Lt {
			return vals.Bool(af < bf), nil
		}
		return vals.Bool(af > bf), nil
	case code.And, code.Or:
		ab, aok := a.(vals.Bool)
		bb, bok := b.(vals.Bool)
		if !aok || !bok {
			return nil, machine.Errorf(machine.TypeMismatch,
				"%s wants booleans, got %s and %s", op, vals.Kind(a), vals.Kind(b))
		}
		if op == code.And {
			return ab && bb, nil
		}
		return ab || bb, nil
	}
	return nil, machine.Errorf(machine.MalformedCode, "bad binary op %s", op)
}

func arith(op code.Op, a, b vals.Value) (vals.Value, *machine.Error) {
	ai, aInt := a.(vals.Int)
	bi, bInt := b.(vals.Int)
	if aInt && bInt {
		switch op {
		case code.Add:
			return ai + bi, nil
		case code.Sub:
			return ai - bi, nil
		case code.Mul:
			return ai * bi, nil
		case code.Div:
			if bi == 0 {
				return nil, machine.Errorf(machine.DivisionByZero, "division by zero")
			}
			return ai / bi, nil
		}
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return nil, machine.Errorf(machine.TypeMismatch,
			"%s wants numbers, got %s and %s", op, vals.Kind(a), vals.Kind(b))
	}
	switch op {
	case code.Add:
		return vals.Float(af + bf), nil
	case code.Sub:
		return vals.Float(af - bf), nil
	case code.Mul:
		return vals.Float(af * bf), nil
	case code.Div:
		if bf == 0 {
			return nil, machine.Errorf(machine.DivisionByZero, "division by zero")
		}
		return vals.Float(af / bf), nil
	}
	return nil, machine.Errorf(machine.MalformedCode, "bad arithmetic op %s", op)
}

func unaryOp(op code.Op, a vals.Value) (vals.Value, *machine.Error) {
	switch op {
	case code.Neg:
		switch a := a.(type) {
		case vals.Int:
			return -a, nil
		case vals.Float:
			return -a, nil
		}
		return nil, machine.Errorf(machine.TypeMismatch,
			"neg wants a number, got %s", vals.Kind(a))
	case code.Not:
		if b, ok := a.(vals.Bool); ok {
			return !b, nil
		}
		return nil, machine.Errorf(machine.TypeMismatch,
			"not wants a boolean, got %s", vals.Kind(a))
	}
	return nil, machine.Errorf(machine.MalformedCode, "bad unary op %s", op)
}

// dataOp implements the list and record primitives.
func (ex *Executor) dataOp(st *step, instr code.Instr) *machine.Error {
	t := st.t
	switch instr.Op {
	case code.ListNew:
		elems, err := popN(t, instr.Num)
		if err != nil {
			return err
		}
		t.Stack = append(t.Stack, vals.List(elems))

	case code.ListGet:
		idx, err := pop(t)
		if err != nil {
			return err
		}
		list, err := popList(t, "list-get")
		if err != nil {
			return err
		}
		i, ok := idx.(vals.Int)
		if !ok {
			return machine.Errorf(machine.TypeMismatch,
				"list index must be an integer, got %s", vals.Kind(idx))
		}
		if i < 0 || int(i) >= len(list) {
			return machine.Errorf(machine.TypeMismatch,
				"list index %d out of range for length %d", i, len(list))
		}
		t.Stack = append(t.Stack, list[i])

	case code.ListCat:
		b, err := popListOrNull(t, "list-cat")
		if err != nil {
			return err
		}
		a, err := popListOrNull(t, "list-cat")
		if err != nil {
			return err
		}
		out := make(vals.List, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		t.Stack = append(t.Stack, out)

	case code.ListCons:
		list, err := popListOrNull(t, "list-cons")
		if err != nil {
			return err
		}
		elem, err := pop(t)
		if err != nil {
			return err
		}
		out := make(vals.List, 0, len(list)+1)
		out = append(out, elem)
		out = append(out, list...)
		t.Stack = append(t.Stack, out)

	case code.ListAppend:
		elem, err := pop(t)
		if err != nil {
			return err
		}
		list, err := popListOrNull(t, "list-append")
		if err != nil {
			return err
		}
		out := make(vals.List, 0, len(list)+1)
		out = append(out, list...)
		out = append(out, elem)
		t.Stack = append(t.Stack, out)

	case code.ListFirst:
		list, err := popList(t, "first")
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return machine.Errorf(machine.TypeMismatch, "first of an empty list")
		}
		t.Stack = append(t.Stack, list[0])

	case code.ListRest:
		list, err := popList(t, "rest")
		if err != nil {
			return err
		}
		if len(list) == 0 {
			t.Stack = append(t.Stack, vals.List{})
		} else {
			t.Stack = append(t.Stack, list[1:])
		}

	case code.ListLen:
		list, err := popList(t, "len")
		if err != nil {
			return err
		}
		t.Stack = append(t.Stack, vals.Int(len(list)))

	case code.Atomp:
		v, err := pop(t)
		if err != nil {
			return err
		}
		_, isList := v.(vals.List)
		t.Stack = append(t.Stack, vals.Bool(!isList))

	case code.Nullp:
		v, err := pop(t)
		if err != nil {
			return err
		}
		isNull := false
		switch v := v.(type) {
		case vals.Null:
			isNull = true
		case vals.List:
			isNull = len(v) == 0
		}
		t.Stack = append(t.Stack, vals.Bool(isNull))

	case code.RecordNew:
		pairs, err := popN(t, instr.Num*2)
		if err != nil {
			return err
		}
		rec := make(vals.Record, instr.Num)
		for i := 0; i < len(pairs); i += 2 {
			key, ok := pairs[i].(vals.Sym)
			if !ok {
				return machine.Errorf(machine.TypeMismatch,
					"record key must be a symbol, got %s", vals.Kind(pairs[i]))
			}
			rec[string(key)] = pairs[i+1]
		}
		t.Stack = append(t.Stack, rec)

	case code.RecordGet:
		key, err := pop(t)
		if err != nil {
			return err
		}
		recv, err := pop(t)
		if err != nil {
			return err
		}
		rec, ok := recv.(vals.Record)
		if !ok {
			return machine.Errorf(machine.TypeMismatch,
				"record-get wants a record, got %s", vals.Kind(recv))
		}
		sym, ok := key.(vals.Sym)
		if !ok {
			return machine.Errorf(machine.TypeMismatch,
				"record key must be a symbol, got %s", vals.Kind(key))
		}
		v, ok := rec[string(sym)]
		if !ok {
			return machine.Errorf(machine.TypeMismatch,
				"record has no field %s", sym)
		}
		t.Stack = append(t.Stack, v)
	}
	return nil
}

func popList(t *machine.Thread, op string) (vals.List, *machine.Error) {
	v, err := pop(t)
	if err != nil {
		return nil, err
	}
	list, ok := v.(vals.List)
	if !ok {
		return nil, machine.Errorf(machine.TypeMismatch,
			"%s wants a list, got %s", op, vals.Kind(v))
	}
	return list, nil
}

// popListOrNull is like popList but treats Null as the empty list.
func popListOrNull(t *machine.Thread, op string) (vals.List, *machine.Error) {
	v, err := pop(t)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case vals.List:
		return v, nil
	case vals.Null:
		return vals.List{}, nil
	}
	return nil, machine.Errorf(machine.TypeMismatch,
		"%s wants a list, got %s", op, vals.Kind(v))
}
